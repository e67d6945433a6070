package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/tenantmove/internal/queue"
)

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func parseOutputFormat(s string) (outputFormat, error) {
	switch f := outputFormat(s); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (table, json, yaml)", s)
}

// disableColorUnlessTerminal turns off styling when stdout is not a terminal.
func disableColorUnlessTerminal() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
		pterm.DisableStyling()
	}
}

var statusColors = map[queue.Status]*color.Color{
	queue.StatusPending: color.New(color.FgYellow),
	queue.StatusInWork:  color.New(color.FgCyan),
	queue.StatusSuccess: color.New(color.FgGreen),
	queue.StatusError:   color.New(color.FgRed, color.Bold),
}

func colorStatus(s queue.Status) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

func printRequests(w io.Writer, requests []queue.Request, f outputFormat) error {
	switch f {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(requests)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(requests)
	}

	if len(requests) == 0 {
		fmt.Fprintln(w, "No requests")
		return nil
	}

	disableColorUnlessTerminal()
	data := pterm.TableData{{"ID", "STATUS", "USER", "SOURCE", "DESTINATION", "ALIAS", "REQUESTED", "DURATION"}}
	for _, r := range requests {
		data = append(data, []string{
			fmt.Sprint(r.ID),
			colorStatus(r.Status),
			requestUser(r),
			regionAlias(r.SourceRegion, r.SourceAlias),
			regionAlias(r.DestRegion, r.DestAlias),
			r.Alias,
			humanize.Time(r.RequestDate),
			formatDuration(r),
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func requestUser(r queue.Request) string {
	if r.Email != "" {
		return r.Email
	}
	return r.UserName
}

// regionAlias renders "region/alias"; the home region is shown as "home".
func regionAlias(region, alias string) string {
	if region == "" {
		region = "home"
	}
	if alias == "" {
		alias = "(new)"
	}
	return region + "/" + alias
}

func formatDuration(r queue.Request) string {
	switch {
	case r.StartDate == nil:
		return "-"
	case r.EndDate == nil:
		return "running " + time.Since(*r.StartDate).Round(time.Second).String()
	default:
		return r.Duration().Round(time.Second).String()
	}
}
