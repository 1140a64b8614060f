package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dqx0.com/go/minirest/httpx"
)

// registerDemoRoutes installs the routes minirest ships with.
func registerDemoRoutes(s *httpx.Server, now func() time.Time) error {
	for _, r := range []struct {
		method, path string
		h            httpx.HandlerFunc
	}{
		{"GET", "/hello", hello},
		{"POST", "/echo", echo},
		{"GET", "/time", clock(now)},
	} {
		if err := s.Handle(r.method, r.path, r.h); err != nil {
			return err
		}
	}
	return nil
}

func hello(*httpx.Request) (*httpx.Response, error) {
	return httpx.HTML(200, "<h1>Hi</h1>"), nil
}

// echo returns the request body with the request's content type.
func echo(r *httpx.Request) (*httpx.Response, error) {
	resp := httpx.NewResponse(200, r.Body)
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	resp.Header.Set("Content-Type", ct)
	return resp, nil
}

// clock reports the server time, in the zone named by ?tz= if given.
func clock(now func() time.Time) httpx.HandlerFunc {
	return func(r *httpx.Request) (*httpx.Response, error) {
		t := now()
		if tz := r.Query().Get("tz"); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return httpx.Text(400, fmt.Sprintf("unknown time zone %q\n", tz)), nil
			}
			t = t.In(loc)
		}
		b, err := json.Marshal(map[string]any{
			"now":  t.Format(time.RFC3339Nano),
			"unix": t.Unix(),
		})
		if err != nil {
			return nil, err
		}
		resp := httpx.NewResponse(200, b)
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	}
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the routes served by minirest",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := httpx.New("")
			if err := registerDemoRoutes(s, time.Now); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "METHOD\tPATH")
			for _, r := range s.Routes.Routes() {
				fmt.Fprintf(tw, "%s\t%s\n", r.Method, r.Path)
			}
			return tw.Flush()
		},
	}
}
