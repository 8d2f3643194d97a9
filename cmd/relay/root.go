package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opnlabs/relay/pkg/definition"
	"github.com/opnlabs/relay/pkg/metrics"
	"github.com/opnlabs/relay/pkg/models"
	"github.com/opnlabs/relay/pkg/pipeline"
	"github.com/opnlabs/relay/pkg/runner"
	"github.com/opnlabs/relay/pkg/utils"
)

var (
	pipelineFilePath  string
	branch            string
	environment       string
	params            []string
	envVars           []string
	envFiles          []string
	timeout           time.Duration
	workspace         string
	artifactsDir      string
	metricsFile       string
	logLevel          string
	noColor           bool
	mountDockerSocket bool
	alwaysPull        bool
	showImagePull     bool
	username          string
	password          string
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay is a local first pipeline runner",
	Long: `Relay runs the stages defined in a pipeline file ( default relay.yml ) one
after another. Stages run on the host, or in a docker container when they set
an image. Post hooks run after the stages depending on whether the run
succeeded, failed or was unstable.`,
	SilenceUsage: true,

	Run: func(cmd *cobra.Command, args []string) {
		logger, err := newLogger()
		if err != nil {
			log.Fatal(err)
		}

		code, err := run(cmd, logger)
		if err != nil {
			logger.Fatal("unable to run pipeline", "file", pipelineFilePath, "err", err)
		}
		os.Exit(code)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&pipelineFilePath, "file", "f", "relay.yml", "Path to the pipeline file.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error).")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output.")

	rootCmd.Flags().StringVarP(&branch, "branch", "b", "", "Value of the BRANCH parameter.")
	rootCmd.Flags().StringVarP(&environment, "environment", "E", "", "Value of the ENVIRONMENT parameter.")
	rootCmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Pipeline parameters. KEY=VALUE")
	rootCmd.Flags().StringArrayVarP(&envVars, "environment-variable", "e", nil, "Environment variables. KEY=VALUE")
	rootCmd.Flags().StringArrayVar(&envFiles, "env-file", nil, "Read environment variables from a dotenv file.")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "Override the pipeline timeout.")
	rootCmd.Flags().StringVarP(&workspace, "workspace", "w", ".", "Directory the stages run in.")
	rootCmd.Flags().StringVar(&artifactsDir, "artifacts-dir", definition.DefaultArtifactsDir, "Artifacts directory, relative to the workspace.")
	rootCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics for the run to this file.")
	rootCmd.Flags().BoolVarP(&mountDockerSocket, "mount-docker-socket", "m", false, "Mount the docker socket into stage containers.")
	rootCmd.Flags().BoolVar(&alwaysPull, "always-pull", false, "Pull stage images even when present locally.")
	rootCmd.Flags().BoolVar(&showImagePull, "show-image-pull", false, "Show image pull progress.")
	rootCmd.Flags().StringVarP(&username, "registry-username", "u", "", "Username for the container registry")
	rootCmd.Flags().StringVar(&password, "registry-password", "", "Password / Token for the container registry")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var logLevels = []string{"debug", "info", "warn", "error", "fatal"}

func newLogger() (*log.Logger, error) {
	name := strings.ToLower(logLevel)
	if !slices.Contains(logLevels, name) {
		return nil, fmt.Errorf("invalid log level %q, should be one of %s", logLevel, strings.Join(logLevels, ", "))
	}
	level := log.ParseLevel(name)

	if noColor {
		color.NoColor = true
	}

	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		Prefix:          "relay",
		ReportTimestamp: true,
	}), nil
}

// parseKeyValues splits KEY=VALUE pairs. Values may contain '='.
func parseKeyValues(kind string, pairs []string) (map[string]string, error) {
	m := make(map[string]string, len(pairs))
	for _, v := range pairs {
		k, val, ok := strings.Cut(v, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%s should be defined as KEY=VALUE: %s", kind, v)
		}
		m[k] = val
	}
	return m, nil
}

func collectParams(cmd *cobra.Command) (map[string]string, error) {
	p, err := parseKeyValues("parameters", params)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("branch") {
		p[pipeline.ParamBranch] = branch
	}
	if cmd.Flags().Changed("environment") {
		p[pipeline.ParamEnvironment] = environment
	}
	return p, nil
}

// collectEnv merges the dotenv files in order, then the -e values on top.
func collectEnv() (map[string]string, error) {
	env := make(map[string]string)

	for _, f := range envFiles {
		vars, err := godotenv.Read(f)
		if err != nil {
			return nil, fmt.Errorf("unable to read env file %s: %w", f, err)
		}
		for k, v := range vars {
			env[k] = v
		}
	}

	flags, err := parseKeyValues("variables", envVars)
	if err != nil {
		return nil, err
	}
	for k, v := range flags {
		env[k] = v
	}
	return env, nil
}

func run(cmd *cobra.Command, logger *log.Logger) (int, error) {
	file, err := models.Load(pipelineFilePath)
	if err != nil {
		return 0, err
	}

	p, err := collectParams(cmd)
	if err != nil {
		return 0, err
	}

	env, err := collectEnv()
	if err != nil {
		return 0, err
	}

	var recorder *metrics.Recorder
	var observer pipeline.Observer
	if metricsFile != "" {
		recorder = metrics.NewRecorder(nil)
		observer = recorder
	}

	dockerOpts := runner.DockerRunnerOptions{
		ShowImagePull:     showImagePull,
		AlwaysPull:        alwaysPull,
		MountDockerSocket: mountDockerSocket,
	}

	seq, rc, err := definition.Compile(file, definition.Options{
		Params:       p,
		Env:          env,
		Workspace:    workspace,
		ArtifactsDir: artifactsDir,
		Timeout:      timeout,
		Logger:       logger,
		Observer:     observer,
		Output: func(name string) io.Writer {
			return utils.NewColorLogger(name, os.Stdout, true)
		},
		Docker: func(image, workspace string) runner.Executor {
			return runner.NewDockerRunner(image, workspace, dockerOpts).WithCredentials(username, password)
		},
	})
	if err != nil {
		return 0, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting run", "pipeline", file.Name, "run", rc.ID, "branch", rc.Branch(), "environment", rc.Environment())

	report := seq.Run(ctx, rc)
	printSummary(os.Stdout, report)

	if recorder != nil {
		if err := recorder.WriteTextfile(metricsFile); err != nil {
			logger.Error("unable to write metrics", "path", metricsFile, "err", err)
		}
	}

	return report.Outcome.ExitCode(), nil
}

func printSummary(w io.Writer, report pipeline.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw)
	for _, s := range report.Stages {
		d := "-"
		if s.Status != pipeline.Skipped && s.Status != pipeline.NotRun {
			d = s.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Status, d)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nDone. Run %s in %s\n", report.Outcome, report.Duration.Round(time.Millisecond))
}
