package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lostfound/internal/apiclient"
	"lostfound/internal/items"
)

var titleCaser = cases.Title(language.English)

func wrapClientError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apiclient.ErrDaemonUnreachable) {
		return fmt.Errorf("%w; start it with `lostfound start`", err)
	}
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) && apiErr.ReportID > 0 {
		return fmt.Errorf("%s (report %d was kept)", apiErr.Message, apiErr.ReportID)
	}
	return err
}

func displayCategory(category items.Category) string {
	return titleCaser.String(strings.TrimSpace(string(category)))
}

func displayTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", ts.Local().Format("2006-01-02 15:04"), humanize.Time(ts))
}

func displayBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
