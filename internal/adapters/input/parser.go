// Package input provides log source adapters that turn raw platform log
// lines into normalized AttemptEvents.
package input

import (
	"errors"
	"net/netip"
	"regexp"
	"time"

	"github.com/sshwarden/sshwarden/internal/domain"
)

var (
	// ErrNotFailedAttempt marks lines that are valid log lines but not
	// failed authentication attempts. Callers skip these silently.
	ErrNotFailedAttempt = errors.New("not a failed authentication line")

	// ErrMalformedLine marks lines that look like failures but cannot be
	// normalized (bad timestamp or address).
	ErrMalformedLine = errors.New("malformed auth log line")
)

// failedPasswordRe extracts the targeted user and source address from an
// sshd failure line. "invalid user" appears for accounts that don't exist.
var failedPasswordRe = regexp.MustCompile(
	`sshd\[\d+\]: Failed password for (?:invalid user )?(\S+) from (\S+) port`)

// Timestamp prefixes seen across syslog configurations: the classic BSD
// form without a year, and the RFC 3339 form used by modern rsyslog.
var (
	syslogTimeRe = regexp.MustCompile(`^([A-Z][a-z]{2}) {1,2}(\d{1,2}) (\d{2}:\d{2}:\d{2})`)
	isoTimeRe    = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[T ](\d{2}:\d{2}:\d{2})(?:\.\d+)?([+-]\d{2}:\d{2}|Z)?`)
)

const syslogLayout = "2006 Jan 2 15:04:05"

// AuthLogParser normalizes sshd "Failed password" lines into AttemptEvents.
// Lines for other daemons or successful logins return ErrNotFailedAttempt.
type AuthLogParser struct {
	// now is injectable for tests; syslog timestamps carry no year, so the
	// parser infers it from the current date.
	now func() time.Time
}

func NewAuthLogParser() *AuthLogParser {
	return &AuthLogParser{now: time.Now}
}

func (p *AuthLogParser) Format() string {
	return "sshd-auth"
}

// Parse extracts (timestamp, source address, target user) from one line.
func (p *AuthLogParser) Parse(line string) (domain.AttemptEvent, error) {
	m := failedPasswordRe.FindStringSubmatch(line)
	if m == nil {
		return domain.AttemptEvent{}, ErrNotFailedAttempt
	}
	user, addr := m[1], m[2]

	if _, err := netip.ParseAddr(addr); err != nil {
		return domain.AttemptEvent{}, ErrMalformedLine
	}

	ts, err := p.parseTimestamp(line)
	if err != nil {
		return domain.AttemptEvent{}, err
	}

	return domain.AttemptEvent{
		Timestamp:  ts,
		SourceAddr: addr,
		TargetUser: user,
	}, nil
}

func (p *AuthLogParser) parseTimestamp(line string) (time.Time, error) {
	if m := isoTimeRe.FindStringSubmatch(line); m != nil {
		if m[3] != "" {
			ts, err := time.Parse(time.RFC3339, m[1]+"T"+m[2]+m[3])
			if err != nil {
				return time.Time{}, ErrMalformedLine
			}
			return ts, nil
		}
		ts, err := time.ParseInLocation("2006-01-02 15:04:05", m[1]+" "+m[2], time.Local)
		if err != nil {
			return time.Time{}, ErrMalformedLine
		}
		return ts, nil
	}

	if m := syslogTimeRe.FindStringSubmatch(line); m != nil {
		now := p.now()
		stamp := m[1] + " " + m[2] + " " + m[3]

		ts, err := time.ParseInLocation(syslogLayout, now.Format("2006")+" "+stamp, time.Local)
		if err != nil {
			return time.Time{}, ErrMalformedLine
		}
		// No year in the BSD form. A December line read in January would
		// otherwise land months in the future.
		if ts.After(now.Add(25 * time.Hour)) {
			ts = ts.AddDate(-1, 0, 0)
		}
		return ts, nil
	}

	return time.Time{}, ErrMalformedLine
}
