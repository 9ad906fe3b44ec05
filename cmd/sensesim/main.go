// Command sensesim runs one or more sensing sessions against a simulated
// spectrum: Markov channel occupancy, FFT energy detection, a ground-truth
// oracle that answers only part of the time, and periodic channel ranking.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cogradio/config"
	"cogradio/logging"
	"cogradio/qstore"
	"cogradio/recorder"
	"cogradio/session"
	"cogradio/stats"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"golang.org/x/term"
)

const (
	envPrefix      = "SENSESIM_"
	envConfigPath  = envPrefix + "CONFIG"
	progressPeriod = 100
)

func main() {
	configPath := flag.String("config", "", "YAML file or directory (default $"+envConfigPath+" or built-in defaults)")
	envPath := flag.String("env", ".env", "dotenv file with "+envPrefix+"* overrides; missing file is ignored")
	cycles := flag.Int("cycles", 0, "override simulation.cycles")
	seed := flag.Int64("seed", 0, "override simulation.seed")
	useDashboard := flag.Bool("dashboard", false, "full-screen dashboard when stdout is a terminal")
	flag.Parse()

	if err := loadEnvFile(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "sensesim: %v\n", err)
		os.Exit(1)
	}
	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(envConfigPath))
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensesim: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(envPrefix, os.Getenv)
	if *cycles > 0 {
		cfg.Simulation.Cycles = *cycles
	}
	if *seed != 0 {
		cfg.Simulation.Seed = *seed
	}

	fanout, err := logging.Setup(cfg.Logging, os.Stderr)
	if err != nil {
		log.Printf("file logging disabled: %v", err)
	}
	defer fanout.Close()

	var dash *dashboard
	progress := progressWriter()
	if *useDashboard && progress != nil {
		dash = newDashboard(true)
		dash.WaitReady()
		fanout.SetConsole(dash.SystemWriter(), true)
		progress = nil
	} else {
		cfg.Print()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, cfg, progress, dash)
	if dash != nil {
		dash.Stop()
		fanout.SetConsole(os.Stderr, true)
	}
	for _, line := range summary {
		fmt.Println(line)
		fanout.WriteFileOnly(line)
	}
	if err != nil {
		log.Printf("sensesim: %v", err)
		os.Exit(1)
	}
}

// loadEnvFile applies a dotenv file without overriding variables already set.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// progressWriter returns stdout when it is a terminal, otherwise nil so
// redirected output stays free of carriage-return progress lines.
func progressWriter() io.Writer {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return os.Stdout
	}
	return nil
}

type radio struct {
	name   string
	sess   *session.Session
	sensed int
	ckpt   *qstore.Radio
}

// run drives the simulation and returns summary lines. It stops early when
// ctx is cancelled and still checkpoints. dash may be nil.
func run(ctx context.Context, cfg *config.Config, progress io.Writer, dash *dashboard) ([]string, error) {
	sim := cfg.Simulation
	rng := rand.New(rand.NewSource(sim.Seed))
	env := newSpectrum(sim, rng)
	tracker := stats.NewTracker()

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		r, err := recorder.Open(cfg.Recorder)
		if err != nil {
			return nil, err
		}
		rec = r
		defer rec.Close()
		log.Printf("recording to %s", rec.Path())
	}

	var store *qstore.Store
	if cfg.Checkpoint.Enabled {
		s, err := qstore.Open(cfg.Checkpoint.Path, qstore.Options{})
		if err != nil {
			return nil, err
		}
		store = s
		defer store.Close()
	}

	radios := make([]*radio, 0, len(sim.Radios))
	for i, name := range sim.Radios {
		r := &radio{name: name, sensed: i % sim.Channels}
		truth := &oracle{env: env, sensed: &r.sensed, availability: sim.FeedbackAvailability}
		sess, err := session.New(cfg.Session(), truth)
		if err != nil {
			return nil, fmt.Errorf("radio %s: %w", name, err)
		}
		sess.SetTracker(tracker)
		if rec != nil {
			sess.SetSink(rec)
		}
		r.sess = sess
		if store != nil {
			ckpt, err := store.Radio(name)
			if err != nil {
				return nil, err
			}
			r.ckpt = ckpt
			restoreRadio(r)
		}
		log.Printf("radio %s: session %s sensing channel %d", name, sess.ID(), r.sensed)
		radios = append(radios, r)
	}

	start := time.Now().UTC()
	step := time.Duration(sim.CycleMS) * time.Millisecond
	completed := 0
loop:
	for cycle := 0; cycle < sim.Cycles; cycle++ {
		select {
		case <-ctx.Done():
			log.Printf("interrupted after %d cycles", cycle)
			break loop
		default:
		}
		env.advance()
		now := start.Add(time.Duration(cycle) * step)
		for _, r := range radios {
			res, err := r.sess.Step(now, env.energyBins(r.sensed))
			if err != nil {
				log.Printf("radio %s: cycle %d: %v", r.name, cycle, err)
			} else if res.Decision.Labeled {
				dash.AppendLabel(fmt.Sprintf("%s #%d ch%d energy=%.3g th=%.4g %s->%s [%s]",
					r.name, res.Cycle, r.sensed, res.Decision.Energy, res.Decision.Threshold,
					res.Decision.Hypothesis, res.Label, res.Decision.Outcome))
			}
			if (cycle+1)%sim.RankEvery == 0 {
				rankRadio(r, env, sim.SubSenses, now, dash)
			}
		}
		completed = cycle + 1
		if completed%progressPeriod == 0 {
			if progress != nil {
				fmt.Fprintf(progress, "\rcycle %s/%s", humanize.Comma(int64(completed)), humanize.Comma(int64(sim.Cycles)))
			}
			dash.SetStats(statusLines(radios, tracker, completed, sim.Cycles))
		}
	}
	if progress != nil {
		fmt.Fprintln(progress)
	}

	var firstErr error
	for _, r := range radios {
		if r.ckpt == nil {
			continue
		}
		if err := r.sess.Checkpoint(r.ckpt); err != nil {
			log.Printf("radio %s: %v", r.name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	// flush queued records so the summary counts are final
	if err := rec.Close(); err != nil {
		log.Printf("recorder close: %v", err)
	}
	return summarize(radios, tracker, rec, completed), firstErr
}

func restoreRadio(r *radio) {
	ok, err := r.sess.RestoreFrom(r.ckpt)
	switch {
	case errors.Is(err, qstore.ErrFingerprintMismatch):
		log.Printf("radio %s: checkpoint written under different learner settings; starting fresh", r.name)
	case err != nil:
		log.Printf("radio %s: restore failed: %v", r.name, err)
	case ok:
		log.Printf("radio %s: restored %d channel histories", r.name, r.sess.Registry().Len())
	}
}

func rankRadio(r *radio, env *spectrum, subSenses int, now time.Time, dash *dashboard) {
	matrix := env.rankingMatrix(subSenses, r.sess.Learner().Threshold())
	ranked, err := r.sess.Rank(now, matrix)
	if err != nil {
		log.Printf("radio %s: rank: %v", r.name, err)
		return
	}
	best := int(ranked[0].Channel)
	if best != r.sensed {
		dash.AppendMove(fmt.Sprintf("%s: channel %d -> %d (score %.3f)", r.name, r.sensed, best, ranked[0].Score))
		r.sensed = best
	}
}

func summarize(radios []*radio, tracker *stats.Tracker, rec *recorder.Recorder, completed int) []string {
	lines := []string{fmt.Sprintf("Completed %s cycles", humanize.Comma(int64(completed)))}
	lines = append(lines, tracker.SnapshotLines()...)
	lines = append(lines, radioLines(radios)...)
	if rec != nil {
		lines = append(lines, fmt.Sprintf("Recorder: %s written, %s dropped",
			humanize.Comma(rec.Written()), humanize.Comma(rec.Dropped())))
	}
	return lines
}

func statusLines(radios []*radio, tracker *stats.Tracker, completed, total int) []string {
	lines := []string{fmt.Sprintf("Cycle %s/%s  up %s", humanize.Comma(int64(completed)),
		humanize.Comma(int64(total)), tracker.Uptime().Round(time.Second))}
	lines = append(lines, tracker.SnapshotLines()...)
	return append(lines, radioLines(radios)...)
}

func radioLines(radios []*radio) []string {
	lines := make([]string, 0, len(radios))
	for _, r := range radios {
		l := r.sess.Learner()
		g := l.Global()
		lines = append(lines, fmt.Sprintf("Radio %s: threshold=%.4g grid=%d pd=%.3f pf=%.3f channel=%d",
			r.name, l.Threshold(), len(l.Grid()), g.PD, g.PF, r.sensed))
	}
	return lines
}
