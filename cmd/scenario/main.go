// Command scenario replays scripted centrals against the simulated colour
// peripheral, checks the scenario's assertions and writes a Markdown report.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/user/ble-advertiser/scenario"
)

func scenarioProgress(bar *pb.ProgressBar) func(int, scenario.StepResult) {
	return func(index int, result scenario.StepResult) {
		bar.Set("step", fmt.Sprintf("%s %s", result.Step.Action, result.Code()))
		bar.SetCurrent(int64(index + 1))
	}
}

func cmdRun(c *cli.Context) error {
	path := c.String("scenario")
	if path == "" && c.NArg() > 0 {
		path = c.Args().First()
	}
	if path == "" {
		return errors.New("no scenario specified")
	}

	s, err := scenario.LoadScenario(path)
	if err != nil {
		return err
	}
	if problems := s.Validate(); len(problems) > 0 {
		return errors.Errorf("invalid scenario:\n  %s", strings.Join(problems, "\n  "))
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Running scenario '%s' (%d steps, %v)\n", s.Name, len(s.Timeline), s.Duration())

	runner := scenario.NewRunner(s)
	defer runner.Close()
	if timeout := c.Duration("step-timeout"); timeout > 0 {
		runner.StepTimeout = timeout
	}
	if err := runner.Setup(); err != nil {
		return errors.Wrap(err, "failed to set up peripheral")
	}

	var bar *pb.ProgressBar
	if !c.Bool("quiet") {
		bar = pb.ProgressBarTemplate(`{{ white "Scenario:" }} {{counters . }} {{bar . | green}} {{string . "step" | white }}`).New(len(s.Timeline))
		bar.SetWriter(out)
		bar.Start()
		runner.OnStep = scenarioProgress(bar)
	}

	err = runner.Run(context.Background())
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return errors.Wrap(err, "scenario run failed")
	}

	results := runner.CheckAssertions()
	report := scenario.NewReport(s, runner, results)
	for _, a := range results {
		mark := "PASS"
		if !a.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(out, "  [%s] %s: %s\n", mark, a.Assertion.Type, a.Message)
	}

	reportPath, err := report.Write(c.String("report"))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Report written to %s\n", reportPath)

	if name := c.String("transcript"); name != "" {
		transcriptPath, err := runner.Manager().SaveTranscript(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Transcript written to %s\n", transcriptPath)
	}

	if failed := report.Failures(); len(failed) > 0 {
		return errors.Errorf("%d of %d assertion(s) failed", len(failed), len(results))
	}
	return nil
}

func cmdValidate(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("no scenario specified")
	}

	invalid := 0
	for _, path := range c.Args() {
		s, err := scenario.LoadScenario(path)
		if err != nil {
			fmt.Fprintf(c.App.Writer, "%s: %v\n", path, err)
			invalid++
			continue
		}
		problems := s.Validate()
		if len(problems) == 0 {
			fmt.Fprintf(c.App.Writer, "%s: ok (%d steps, %d assertions)\n", path, len(s.Timeline), len(s.Assertions))
			continue
		}
		invalid++
		for _, p := range problems {
			fmt.Fprintf(c.App.Writer, "%s: %s\n", path, p)
		}
	}
	if invalid > 0 {
		return errors.Errorf("%d invalid scenario(s)", invalid)
	}
	return nil
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "scenario"
	app.Usage = "Replay central scenarios against the simulated colour peripheral"
	app.Version = "0.1"
	app.Action = cli.ShowAppHelp

	flgScenario := cli.StringFlag{Name: "scenario, s", Usage: "Scenario YAML file"}
	flgReport := cli.StringFlag{Name: "report, r", Usage: "Directory for the Markdown report (default <data dir>/reports)"}
	flgTranscript := cli.StringFlag{Name: "transcript, t", Usage: "Save the radio transcript under this name"}
	flgTimeout := cli.DurationFlag{Name: "step-timeout", Usage: "Timeout of each blocking step"}
	flgQuiet := cli.BoolFlag{Name: "quiet, q", Usage: "Do not show a progress bar"}

	app.Commands = []cli.Command{
		{
			Name:    "run",
			Aliases: []string{"r"},
			Usage:   "Run a scenario and check its assertions",
			Action:  cmdRun,
			Flags:   []cli.Flag{flgScenario, flgReport, flgTranscript, flgTimeout, flgQuiet},
		},
		{
			Name:      "validate",
			Aliases:   []string{"v"},
			Usage:     "Check scenario files without running them",
			ArgsUsage: "<scenario.yaml>...",
			Action:    cmdValidate,
		},
	}
	return app
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
