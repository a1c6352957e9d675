// Command docgen scans the @Title/@Route annotations in internal/api and
// writes the HTTP API reference served under /docs.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

type Endpoint struct {
	Title       string
	Route       string
	Description string
	Response    string
}

var (
	reTitle = regexp.MustCompile(`// @Title: (.*)`)
	reRoute = regexp.MustCompile(`// @Route: (.*)`)
	reDesc  = regexp.MustCompile(`// @Description: (.*)`)
	reResp  = regexp.MustCompile(`// @Response: (.*)`)
)

func main() {
	apiDir := flag.String("api", "internal/api", "directory holding annotated handlers")
	out := flag.String("out", "internal/docs/content/api.adoc", "output AsciiDoc file")
	flag.Parse()

	endpoints, err := scanDir(*apiDir)
	if err != nil {
		logrus.WithError(err).Fatal("scan failed")
	}

	f, err := os.Create(*out)
	if err != nil {
		logrus.WithError(err).Fatal("create output")
	}
	defer f.Close()

	if err := writeAsciiDoc(f, endpoints); err != nil {
		logrus.WithError(err).Fatal("write output")
	}
	fmt.Printf("Generated %s (%d endpoints)\n", *out, len(endpoints))
}

// scanDir collects annotated endpoints from the non-test Go files in dir,
// in file order.
func scanDir(dir string) ([]Endpoint, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		eps, err := scan(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		endpoints = append(endpoints, eps...)
	}
	return endpoints, nil
}

// scan reads annotation blocks. A block ends at its @Response line.
func scan(r io.Reader) ([]Endpoint, error) {
	var endpoints []Endpoint
	var current Endpoint

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if match := reTitle.FindStringSubmatch(line); len(match) > 1 {
			current.Title = strings.TrimSpace(match[1])
		}
		if match := reRoute.FindStringSubmatch(line); len(match) > 1 {
			current.Route = strings.TrimSpace(match[1])
		}
		if match := reDesc.FindStringSubmatch(line); len(match) > 1 {
			current.Description = strings.TrimSpace(match[1])
		}
		if match := reResp.FindStringSubmatch(line); len(match) > 1 {
			current.Response = strings.TrimSpace(match[1])
			if current.Title != "" && current.Route != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints, scanner.Err()
}

func writeAsciiDoc(w io.Writer, endpoints []Endpoint) error {
	var b strings.Builder
	b.WriteString("= HoodHub HTTP API\n\n")
	b.WriteString("Generated from handler annotations by `go run ./cmd/docgen`.\n")

	for _, ep := range endpoints {
		fmt.Fprintf(&b, "\n== %s\n\n", ep.Title)
		fmt.Fprintf(&b, "`%s`\n\n", ep.Route)
		if ep.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", ep.Description)
		}
		fmt.Fprintf(&b, "*Response:* `+%s+`\n", ep.Response)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
