package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pcie-sim/pcie-sim/sim/backend"
	"github.com/pcie-sim/pcie-sim/sim/metrics"
	"github.com/pcie-sim/pcie-sim/sim/record"
	"github.com/pcie-sim/pcie-sim/sim/runner"
	"github.com/pcie-sim/pcie-sim/sim/workload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// session owns everything one command invocation opens: the backend, the
// optional CSV log and the optional metrics server.
type session struct {
	spec     *workload.RunSpec
	b        backend.Backend
	log      *record.Writer
	recorder *metrics.Recorder
	srv      *http.Server
	v        *viper.Viper
	noPacing bool
	// held keeps every configured device open so its statistics outlive
	// the runner's own handles.
	held []backend.Handle
}

func openSession(flags *pflag.FlagSet) (*session, error) {
	spec, v, err := buildRunSpec(flags)
	if err != nil {
		return nil, err
	}
	opts, err := backendOptions(spec)
	if err != nil {
		return nil, err
	}
	b, err := backend.New(spec.Backend, opts)
	if err != nil {
		return nil, err
	}
	s := &session{spec: spec, b: b, v: v, noPacing: v.GetBool("no-pacing")}
	for id := 0; id < spec.Devices; id++ {
		h, err := b.Open(id)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("opening device %d: %w", id, err)
		}
		s.held = append(s.held, h)
	}

	if spec.CSV != "" {
		path := csvTarget(spec.CSV, time.Now())
		w, err := record.Create(path, spec.String())
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		s.log = w
		logrus.Infof("logging transfers to %s (session %s)", path, w.SessionID())
	}
	if addr := v.GetString("metrics-addr"); addr != "" {
		s.recorder = metrics.NewRecorder(s.sinkOrNil())
		s.srv = metrics.NewServer(addr, b, metrics.NewRegistry(b, s.recorder))
		go func() {
			if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("metrics server: %v", err)
			}
		}()
		logrus.Infof("serving metrics on %s/metrics", addr)
	}
	logrus.Infof("configuration: %s", spec)
	return s, nil
}

// sinkOrNil avoids handing runner a typed-nil *record.Writer.
func (s *session) sinkOrNil() metrics.Sink {
	if s.log == nil {
		return nil
	}
	return s.log
}

func (s *session) runner() (*runner.Runner, error) {
	pc, err := s.spec.PatternConfig()
	if err != nil {
		return nil, err
	}
	dir, err := s.spec.ParsedDirection()
	if err != nil {
		return nil, err
	}
	var sink runner.Sink
	switch {
	case s.recorder != nil:
		sink = s.recorder
	case s.log != nil:
		sink = s.log
	}
	return runner.New(s.b, runner.Config{
		Pattern:   pc,
		Direction: dir,
		Seed:      s.spec.Seed,
		Sink:      sink,
		NoPacing:  s.noPacing,
	}), nil
}

// printStatus writes each open device's statistics.
func (s *session) printStatus(w io.Writer) {
	for id := 0; id < s.spec.Devices; id++ {
		dev, ok := s.b.Device(id)
		if !ok {
			continue
		}
		dev.Stats().Print(w, id)
		tx, rx := dev.RingCounters()
		fmt.Fprintf(w, "TX Ring              : %d submitted, %d completed, %d overruns\n", tx.Submissions, tx.Completions, tx.Overruns)
		fmt.Fprintf(w, "RX Ring              : %d submitted, %d completed, %d overruns\n", rx.Submissions, rx.Completions, rx.Overruns)
		fmt.Fprintln(w)
	}
}

// close finishes the CSV session with summary, stops the metrics server and
// closes the backend.
func (s *session) close(summary string) error {
	var errs []error
	if s.log != nil {
		errs = append(errs, s.log.Close(summary))
	}
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, s.srv.Shutdown(ctx))
		cancel()
	}
	for _, h := range s.held {
		errs = append(errs, h.Close())
	}
	errs = append(errs, s.b.Close())
	return errors.Join(errs...)
}
