package sems

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/solarmind/solarmind/pkg/log"
)

// Column names understood by the portal.
const (
	ColumnPVPower     = "ppv"
	ColumnACPower     = "pac"
	ColumnBatterySOC  = "Cbattery1"
	ColumnEnergyToday = "eday"
)

// DateLayout is the layout of the date sent with column queries.
const DateLayout = "2006-01-02 15:04:05"

// dateVariants returns date and, when it carries a time of day, its date-only
// prefix.
func dateVariants(date string) []string {
	date = strings.TrimSpace(date)
	for _, sep := range []string{" ", "T"} {
		if i := strings.Index(date, sep); i > 0 {
			return []string{date, date[:i]}
		}
	}
	return []string{date}
}

// FetchColumn fetches one column for the inverter on date. Each token cycle
// walks every date variant against every base URL candidate; a wrong-backend
// answer adds the suggested host to the candidates of the cycle. Between
// cycles the session is renewed. The session that was in use when the call
// returned is returned alongside the series so callers can keep using it.
func (c *Client) FetchColumn(ctx context.Context, sess Session, id InverterIdentity, column, date string) (ColumnSeries, Session, error) {
	if id.Serial == "" {
		return nil, sess, fmt.Errorf("%w: missing inverter serial", ErrConfiguration)
	}

	lastCode := 0
	var lastErr error
	for cycle := 1; cycle <= c.maxTokenCycles; cycle++ {
		candidates := c.candidates(sess)
		for _, d := range dateVariants(date) {
			// suggestions append to the shared list, so iterate by index
			for i := 0; i < len(candidates); i++ {
				base := candidates[i]
				l := log.Ctx(ctx).With(
					slog.String("column", column),
					slog.String("base", base),
					slog.String("date", d),
					slog.Int("cycle", cycle),
				)

				status, body, err := c.post(ctx, base+columnPath, sess.Token, map[string]string{
					"id":     id.Serial,
					"date":   d,
					"column": column,
				})
				if err != nil {
					l.WarnContext(ctx, "sems column request failed", slog.Any("error", err))
					lastErr = err
					continue
				}
				if status != http.StatusOK {
					l.WarnContext(ctx, "sems column request bad status", slog.Int("status", status))
					lastErr = fmt.Errorf("status %d", status)
					continue
				}
				pr, isEnvelope, err := decodeEnvelope(body)
				if err != nil {
					l.WarnContext(ctx, "sems column response malformed", slog.Any("error", err))
					lastErr = err
					continue
				}
				if isEnvelope && pr.Code == codeWrongBackend {
					lastCode = codeWrongBackend
					lastErr = errors.New("wrong backend")
					if suggested, ok := c.regions.Sanitize(pr.Components.API); ok {
						candidates = appendCandidate(candidates, suggested)
						l.InfoContext(ctx, "sems suggested another backend", slog.String("suggested", suggested))
					} else {
						l.WarnContext(ctx, "sems wrong backend without usable suggestion", slog.String("suggested", pr.Components.API))
					}
					continue
				}
				if isEnvelope {
					lastCode = int(pr.Code)
				}

				series, err := ParseSeries(body, c.location)
				if err != nil {
					// a success envelope without a recognizable list is an empty series
					l.DebugContext(ctx, "sems column without samples", slog.Any("error", err))
				}
				if region, ok := c.regions.RegionOf(base); ok {
					sess = c.sessions.NoteDataRegion(ctx, sess, region)
				}
				return series, sess, nil
			}
		}

		if cycle == c.maxTokenCycles || !c.sessions.HasCredentials() {
			break
		}
		log.Ctx(ctx).InfoContext(ctx, "renewing sems session after failed token cycle",
			slog.String("column", column),
			slog.Int("cycle", cycle),
		)
		renewed, err := c.sessions.Renew(ctx, sess)
		if err != nil {
			return nil, sess, &FetchError{Op: column, Code: lastCode, Err: err}
		}
		sess = renewed
	}

	if lastCode == 0 {
		lastCode = codeWrongBackend
	}
	return nil, sess, &FetchError{Op: column, Code: lastCode, Err: lastErr}
}

func appendCandidate(candidates []string, base string) []string {
	if len(candidates) >= maxCandidates {
		return candidates
	}
	for _, c := range candidates {
		if c == base {
			return candidates
		}
	}
	return append(candidates, base)
}
