package input

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/nxadm/tail"
	"github.com/rs/zerolog/log"

	"github.com/sshwarden/sshwarden/internal/domain"
	"github.com/sshwarden/sshwarden/internal/ports"
)

// AuthLogTailer follows an auth log file and emits parsed AttemptEvents.
// It survives log rotation via ReOpen and tolerates truncation.
type AuthLogTailer struct {
	path          string
	parser        ports.EventParser
	fromBeginning bool

	tailer   *tail.Tail
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ ports.EventSource = (*AuthLogTailer)(nil)

// NewAuthLogTailer creates a tailer for the given file. When fromBeginning
// is false the tailer seeks to the end first, so only new attempts are seen.
func NewAuthLogTailer(path string, parser ports.EventParser, fromBeginning bool) *AuthLogTailer {
	return &AuthLogTailer{
		path:          path,
		parser:        parser,
		fromBeginning: fromBeginning,
		stopChan:      make(chan struct{}),
	}
}

// Start begins tailing. Parse failures on individual lines are logged and
// skipped; only tailer-level failures reach the error channel.
func (t *AuthLogTailer) Start(ctx context.Context) (<-chan domain.AttemptEvent, <-chan error) {
	events := make(chan domain.AttemptEvent, 256)
	errs := make(chan error, 1)

	cfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	}
	if !t.fromBeginning {
		cfg.Location = &tail.SeekInfo{Whence: io.SeekEnd}
	}

	tailer, err := tail.TailFile(t.path, cfg)
	if err != nil {
		errs <- err
		close(events)
		close(errs)
		return events, errs
	}
	t.tailer = tailer

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(events)
		defer close(errs)

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopChan:
				return
			case line, ok := <-tailer.Lines:
				if !ok {
					if err := tailer.Err(); err != nil {
						errs <- err
					}
					return
				}
				if line.Err != nil {
					log.Warn().Err(line.Err).Str("path", t.path).Msg("tail line error")
					continue
				}
				event, err := t.parser.Parse(line.Text)
				if err != nil {
					if !errors.Is(err, ErrNotFailedAttempt) {
						log.Debug().Err(err).Str("line", line.Text).Msg("skipping unparseable line")
					}
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				case <-t.stopChan:
					return
				}
			}
		}
	}()

	log.Info().Str("path", t.path).Str("format", t.parser.Format()).Bool("from_beginning", t.fromBeginning).Msg("tailing auth log")
	return events, errs
}

// Stop terminates tailing and waits for the reader goroutine to exit.
func (t *AuthLogTailer) Stop() error {
	t.stopOnce.Do(func() {
		close(t.stopChan)
	})
	var err error
	if t.tailer != nil {
		err = t.tailer.Stop()
	}
	t.wg.Wait()
	return err
}
