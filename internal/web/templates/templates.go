// Package templates renders the HTML pages served by the web package.
package templates

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"
)

// UploadRow is one run shown on the dashboard.
type UploadRow struct {
	ID        string
	Filename  string
	Status    string
	CreatedAt time.Time
	Orders    int
	Items     int
	Warnings  int
	Error     string
	ErrorCode string
}

// DashboardData is everything the dashboard page shows.
type DashboardData struct {
	Orders        int64
	Items         int64
	Statuses      []StatusCount
	Uploads       []UploadRow
	Formats       []string
	Active        int
	MaxConcurrent int
	MaxFileSize   int64
	Now           time.Time
}

// StatusCount is the number of runs in one status.
type StatusCount struct {
	Status string
	Count  int64
}

// pageWriter accumulates the first write error so templates read top to bottom.
type pageWriter struct {
	w   io.Writer
	err error
}

func (p *pageWriter) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *pageWriter) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *pageWriter) textf(format string, args ...any) {
	p.text(fmt.Sprintf(format, args...))
}

const pageHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Order imports</title>
<style>
body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2937}
table{border-collapse:collapse;width:100%}
th,td{text-align:left;padding:.4rem .6rem;border-bottom:1px solid #e5e7eb}
.stats{display:flex;gap:2rem;margin-bottom:1.5rem}
.stat b{display:block;font-size:1.5rem}
.failed{color:#b91c1c}
.completed{color:#15803d}
.alert{border:1px solid #fca5a5;background:#fef2f2;padding:.75rem;border-radius:.375rem}
</style>
</head>
<body>
`

// Dashboard renders the overview page.
func Dashboard(d DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		now := d.Now
		if now.IsZero() {
			now = time.Now()
		}

		p.raw(pageHead)
		p.raw("<h1>Order imports</h1>\n<div class=\"stats\">")
		p.raw(`<div class="stat"><b>`)
		p.text(humanize.Comma(d.Orders))
		p.raw(`</b>orders</div><div class="stat"><b>`)
		p.text(humanize.Comma(d.Items))
		p.raw(`</b>items</div>`)
		for _, sc := range d.Statuses {
			p.raw(`<div class="stat"><b>`)
			p.text(humanize.Comma(sc.Count))
			p.raw(`</b>`)
			p.text(sc.Status)
			p.raw(`</div>`)
		}
		p.raw("</div>\n<p>")
		p.textf("Running %d of %d. Accepts %v up to %s.",
			d.Active, d.MaxConcurrent, d.Formats, humanize.Bytes(uint64(max(d.MaxFileSize, 0))))
		p.raw("</p>\n")

		p.raw("<h2>Recent uploads</h2>\n")
		if len(d.Uploads) == 0 {
			p.raw("<p>No uploads yet.</p>\n")
		} else {
			p.raw("<table>\n<thead><tr><th>File</th><th>Status</th><th>Started</th><th>Orders</th><th>Items</th><th>Warnings</th><th>Error</th></tr></thead>\n<tbody>\n")
			for _, u := range d.Uploads {
				p.raw(`<tr id="upload-`)
				p.text(u.ID)
				p.raw(`"><td>`)
				p.text(u.Filename)
				p.raw(`</td><td class="`)
				p.text(u.Status)
				p.raw(`">`)
				p.text(u.Status)
				p.raw(`</td><td title="`)
				p.text(u.CreatedAt.UTC().Format(time.RFC3339))
				p.raw(`">`)
				p.text(humanize.RelTime(u.CreatedAt, now, "ago", "from now"))
				p.raw(`</td><td>`)
				p.text(humanize.Comma(int64(u.Orders)))
				p.raw(`</td><td>`)
				p.text(humanize.Comma(int64(u.Items)))
				p.raw(`</td><td>`)
				p.text(humanize.Comma(int64(u.Warnings)))
				p.raw(`</td><td>`)
				if u.Error != "" {
					p.text(u.Error)
					p.raw(` <code>`)
					p.text(u.ErrorCode)
					p.raw(`</code>`)
				}
				p.raw("</td></tr>\n")
			}
			p.raw("</tbody>\n</table>\n")
		}
		p.raw("</body>\n</html>\n")
		return p.err
	})
}

// ErrorAlert renders an error fragment with an optional suggested action.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		p.raw(`<div class="alert" role="alert"><strong>`)
		p.text(message)
		p.raw(`</strong>`)
		if action != "" {
			p.raw(`<p>`)
			p.text(action)
			p.raw(`</p>`)
		}
		if code != "" {
			p.raw(`<small>Error code: `)
			p.text(code)
			p.raw(`</small>`)
		}
		p.raw("</div>\n")
		return p.err
	})
}
