package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/callwatch/internal/replay"
	"github.com/mbd888/callwatch/internal/transcript"
)

var (
	playAPI         string
	playCallID      string
	playCadence     time.Duration
	playSpeed       float64
	playNoWait      bool
	playKeepOpen    bool
	playInteractive bool
)

var playCmd = &cobra.Command{
	Use:   "play <transcript.{json,yaml}>",
	Short: "Replay one call transcript",
	Long: "Replays a transcript at a fixed cadence. With --interactive, type 'p' and Enter to " +
		"pause or resume and 'q' to stop.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		call, err := replay.LoadFile(args[0])
		if err != nil {
			return err
		}
		if playCallID != "" {
			call.CallID = playCallID
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runPlay(ctx, cmd.OutOrStdout(), cmd.InOrStdin(), newEvaluator(playAPI, logger), call)
	},
}

func init() {
	f := playCmd.Flags()
	f.StringVar(&playAPI, "api", envOr("CALLWATCH_API_URL", ""), "callwatch server URL; empty evaluates in-process")
	f.StringVar(&playCallID, "call-id", "", "override the call id from the file")
	f.DurationVar(&playCadence, "cadence", replay.DefaultCadence, "delay between turns")
	f.Float64Var(&playSpeed, "speed", 1, "playback speed multiplier")
	f.BoolVar(&playNoWait, "no-wait", false, "send turns back to back")
	f.BoolVar(&playKeepOpen, "keep-open", false, "leave the call active when the transcript ends")
	f.BoolVar(&playInteractive, "interactive", false, "read pause/resume/stop commands from stdin")
}

func runPlay(ctx context.Context, out io.Writer, in io.Reader, ev evaluator, call *transcript.CallData) error {
	started, err := ev.Start(ctx, call.CallMeta)
	if err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	callID := started.CallID
	fmt.Fprintf(out, "Call %s  %s  (%d turns)\n", callID, started.CustomerName, len(call.Transcript))

	sink := replay.SinkFunc(func(ctx context.Context, turn transcript.Turn) error {
		res, err := ev.Submit(ctx, callID, turn)
		if err != nil {
			return err
		}
		printTurn(out, turn, res.Turn.CompositeScore, res.Turn.Label, res.Turn.RuleTriggered)
		for _, e := range res.Events {
			fmt.Fprintf(out, "          ! %-5s %-18s -> %s\n", e.Severity, e.Rule, e.SuggestedAction)
		}
		fmt.Fprintf(out, "          risk %s (avg %d)\n", res.Risk.OverallLabel, res.Risk.CompositeAvg)
		return nil
	})

	player := replay.NewPlayer(call.Transcript, sink, playCadence, logger).WithSpeed(playSpeed)
	if playNoWait {
		player.Unpaced()
	}
	if playInteractive {
		go readControls(in, out, player)
	}

	runErr := player.Run(ctx)
	if runErr != nil && !errors.Is(runErr, replay.ErrStopped) {
		fmt.Fprintf(out, "replay halted after %d of %d turns: %v\n", player.Position(), len(call.Transcript), runErr)
	}

	if playKeepOpen {
		return ignoreStopped(runErr)
	}

	// The call is ended even after an interrupt so the server does not hold it open.
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	ended, err := ev.End(endCtx, callID)
	if err != nil {
		return errors.Join(ignoreStopped(runErr), fmt.Errorf("end call: %w", err))
	}
	fmt.Fprintf(out, "Call %s ended: %d turns, %d alerts, risk %s (avg %d)\n",
		ended.CallID, ended.TurnCount, ended.EventCount, ended.Risk.OverallLabel, ended.Risk.CompositeAvg)
	return ignoreStopped(runErr)
}

func printTurn(out io.Writer, turn transcript.Turn, score int, label transcript.Label, rules []string) {
	speaker := turn.Speaker.Canonical()
	line := fmt.Sprintf("[%s] %-8s %3d %-8s %s", turn.Timestamp, speaker, score, label, turn.Text)
	if len(rules) > 0 {
		line += "  {" + strings.Join(rules, ", ") + "}"
	}
	fmt.Fprintln(out, line)
}

func readControls(in io.Reader, out io.Writer, p *replay.Player) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "p", "pause", "resume", "":
			p.Toggle()
			if p.Paused() {
				fmt.Fprintf(out, "-- paused at turn %d --\n", p.Position())
			} else {
				fmt.Fprintln(out, "-- resumed --")
			}
		case "q", "quit", "stop":
			p.Stop()
			return
		}
	}
}

func ignoreStopped(err error) error {
	if errors.Is(err, replay.ErrStopped) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
