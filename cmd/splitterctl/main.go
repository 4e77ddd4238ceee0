// Command splitterctl drives a splitter host's session API over HTTP/1.1 or
// HTTP/3.
package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/splitter/pkg/version"
)

const usage = `Usage: splitterctl [flags] <command> [args]

Commands:
  open <locator>                 open a session
  list [cluster]                 list sessions, optionally across all hosts
  get <id>                       show a session
  close <id>                     close a session
  play|pause|stop <id>           change playback state
  seek <id> <position> [stop]    seek to a position (e.g. 90s or 1m30s)
  positions <id>                 show current position and duration
  rate <id> <rate>               set the playback rate
  streams <id>                   list streams
  enable <id> <index>            enable a stream by index
  select <id> <from> <to>        switch a sink from one stream id to another
  chapters <id>                  list chapters
  keyframes <id> [stream]        list key frames of a video stream
  health                         show host health

Flags:
`

type client struct {
	base string
	http *http.Client
}

func main() {
	var (
		addr     string
		useHTTP3 bool
		insecure bool
		timeout  time.Duration
	)

	flag.StringVar(&addr, "addr", "http://localhost:8080", "Base URL of the splitter host")
	flag.BoolVar(&useHTTP3, "http3", false, "Use HTTP/3 (addr must be https)")
	flag.BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := newClient(addr, useHTTP3, insecure, timeout)
	if err := c.run(os.Stdout, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "splitterctl: %v\n", err)
		os.Exit(1)
	}
}

func newClient(addr string, useHTTP3, insecure bool, timeout time.Duration) *client {
	tlsConfig := &tls.Config{InsecureSkipVerify: insecure}

	var transport http.RoundTripper = &http.Transport{TLSClientConfig: tlsConfig}
	if useHTTP3 {
		transport = &http3.RoundTripper{TLSClientConfig: tlsConfig}
	}

	return &client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Transport: transport, Timeout: timeout},
	}
}

func (c *client) run(out io.Writer, args []string) error {
	cmd, args := args[0], args[1:]

	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: expected %d argument(s), got %d", cmd, n, len(args))
		}
		return nil
	}
	session := func(suffix string) string {
		return "/api/v1/sessions/" + args[0] + suffix
	}

	switch cmd {
	case "health":
		return c.do(out, http.MethodGet, "/health", nil)
	case "open":
		if err := need(1); err != nil {
			return err
		}
		return c.do(out, http.MethodPost, "/api/v1/sessions", map[string]string{"locator": args[0]})
	case "list":
		path := "/api/v1/sessions"
		if len(args) > 0 && args[0] == "cluster" {
			path += "?scope=cluster"
		}
		return c.do(out, http.MethodGet, path, nil)
	case "get", "positions", "streams", "chapters":
		if err := need(1); err != nil {
			return err
		}
		suffix := ""
		if cmd != "get" {
			suffix = "/" + cmd
		}
		return c.do(out, http.MethodGet, session(suffix), nil)
	case "close":
		if err := need(1); err != nil {
			return err
		}
		return c.do(out, http.MethodDelete, session(""), nil)
	case "play", "pause", "stop":
		if err := need(1); err != nil {
			return err
		}
		return c.do(out, http.MethodPost, session("/"+cmd), nil)
	case "seek":
		if err := need(2); err != nil {
			return err
		}
		body := map[string]string{"position": args[1]}
		if len(args) > 2 {
			body["stop"] = args[2]
		}
		return c.do(out, http.MethodPost, session("/seek"), body)
	case "rate":
		if err := need(2); err != nil {
			return err
		}
		rate, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		return c.do(out, http.MethodPut, session("/rate"), map[string]float64{"rate": rate})
	case "enable":
		if err := need(2); err != nil {
			return err
		}
		if _, err := strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("enable: index: %w", err)
		}
		return c.do(out, http.MethodPost, session("/streams/"+args[1]+"/enable"), nil)
	case "select":
		if err := need(3); err != nil {
			return err
		}
		from, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("select: from: %w", err)
		}
		to, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("select: to: %w", err)
		}
		return c.do(out, http.MethodPost, session("/select"), map[string]int{"from": from, "to": to})
	case "keyframes":
		if err := need(1); err != nil {
			return err
		}
		path := session("/keyframes")
		if len(args) > 1 {
			path += "?stream=" + args[1]
		}
		return c.do(out, http.MethodGet, path, nil)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *client) do(out io.Writer, method, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent("splitterctl"))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if len(bytes.TrimSpace(data)) > 0 {
		var pretty bytes.Buffer
		if json.Indent(&pretty, data, "", "  ") == nil {
			data = append(pretty.Bytes(), '\n')
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s (%s)", method, path, resp.Status, resp.Proto)
	}
	return nil
}
