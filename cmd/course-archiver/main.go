package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-hclog"

	"coursearchiver/internal/adapters/ffmpeg"
	"coursearchiver/internal/adapters/lms"
	"coursearchiver/internal/adapters/localstorage"
	"coursearchiver/internal/adapters/page"
	"coursearchiver/internal/adapters/session"
	"coursearchiver/internal/config"
	"coursearchiver/internal/core/domain"
	"coursearchiver/internal/core/ports"
	"coursearchiver/internal/dash"
	"coursearchiver/internal/ledger"
	"coursearchiver/internal/localize"
	"coursearchiver/internal/logging"
	"coursearchiver/internal/metrics"
	"coursearchiver/internal/publish"
	"coursearchiver/internal/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to a YAML config file")
	course := flag.String("course", "", "Course URL or id (course-v1:...) to archive")
	output := flag.String("output", "", "Base directory for archived courses")
	force := flag.Bool("force", false, "Re-create lessons that already exist")
	noVideos := flag.Bool("no-videos", false, "Do not download lecture videos")
	useCache := flag.Bool("use-cache", false, "Reuse a cached course structure when present")
	listCourses := flag.Bool("list-courses", false, "List enrolled courses and exit")
	showProgress := flag.Bool("show-progress", false, "Print the progress of every archived course and exit")
	resetFailed := flag.Bool("reset-failed", false, "Clear failed entries so the next run retries them, then exit")
	cleanProgress := flag.Bool("clean-progress", false, "Delete progress files and exit")
	publishURL := flag.String("publish", "", "Bucket URL (file://, s3://, gs://) to mirror the course to")
	logLevel := flag.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *output != "" {
		cfg.Output.Dir = *output
	}
	if *force {
		cfg.Output.ForceOverwrite = true
	}
	if *useCache {
		cfg.Output.UseCache = true
	}
	if *noVideos {
		cfg.Video.Enabled = false
	}
	if *publishURL != "" {
		cfg.Publish.BucketURL = *publishURL
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		return 1
	}

	logger, closer, err := logging.New("course-archiver", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *showProgress || *resetFailed || *cleanProgress {
		return progressCommand(cfg.Output.Dir, *showProgress, *resetFailed, *cleanProgress, logger)
	}

	m := metrics.New()
	if cfg.Metrics.Address != "" {
		srv := m.Serve(cfg.Metrics.Address, func(err error) {
			logger.Error("metrics listener stopped", "error", err)
		})
		defer srv.Close()
		logger.Info("metrics listening", "addr", cfg.Metrics.Address)
	}

	sess, err := session.New(session.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		AcceptLanguage:    cfg.HTTP.AcceptLanguage,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
	}, logger, m)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		return 1
	}
	source, err := lms.NewClient(sess, lms.Config{
		BaseURL:  cfg.LMS.BaseURL,
		AppsURL:  cfg.LMS.AppsURL,
		Timezone: cfg.LMS.Timezone,
		Timeout:  cfg.HTTP.Timeout,
	}, logger)
	if err != nil {
		logger.Error("failed to create LMS client", "error", err)
		return 1
	}

	if cfg.LMS.Username == "" || cfg.LMS.Password == "" {
		logger.Error("credentials missing: set LMS_USERNAME and LMS_PASSWORD or lms.username/lms.password")
		return 1
	}
	if err := source.Login(ctx, cfg.LMS.Username, cfg.LMS.Password); err != nil {
		logger.Error("login failed", "error", err)
		return 1
	}

	if *listCourses {
		return printCourses(ctx, source, logger)
	}
	if *course == "" {
		fmt.Println("Usage: course-archiver -course <course-url|course-id> [-output <dir>] [-force] [-no-videos] [-use-cache]")
		fmt.Println("       course-archiver -list-courses")
		fmt.Println("       course-archiver -show-progress | -reset-failed | -clean-progress")
		return 2
	}
	ref := resolveCourse(ctx, source, *course, logger)

	var videos ports.VideoDownloader
	if cfg.Video.Enabled {
		muxer := ffmpeg.NewMuxer(cfg.Video.FFmpegPath, cfg.Video.MuxTimeout, logger, m)
		if err := muxer.Available(); err != nil {
			logger.Warn("ffmpeg unavailable, videos will not be downloaded", "error", err)
		} else {
			fetcher := dash.NewChunkFetcher(sess, cfg.Video.ChunkTimeout, m)
			videos = dash.NewDownloader(sess, dash.NewAssembler(fetcher, logger, m), muxer, dash.DownloaderConfig{
				PlayerBaseURL:   cfg.Video.PlayerBaseURL,
				ManifestTimeout: cfg.Video.ManifestTimeout,
			}, logger, m)
		}
	}

	localizer := localize.New(sess, localize.Config{
		AssetHosts:    cfg.Localize.AssetHosts,
		SourceDomains: cfg.Localize.SourceDomains,
		DropScripts:   cfg.Localize.DropScripts,
		MathJaxURL:    cfg.Localize.MathJaxURL,
		Timeout:       cfg.Localize.Timeout,
	}, logger, m)

	opts := service.Options{
		Force:       cfg.Output.ForceOverwrite,
		NoVideos:    !cfg.Video.Enabled,
		UseCache:    cfg.Output.UseCache,
		IgnoreTitle: cfg.IsIgnoredTitle,
	}
	if cfg.LMS.RenderXBlocks {
		opts.XBlockBaseURL = cfg.LMS.BaseURL
	}
	openLedger := func(dir, name string) (service.Ledger, error) {
		return ledger.Open(dir, name, logger)
	}

	orchestrator := service.NewOrchestrator(
		source,
		page.NewHTTPRenderer(sess, cfg.HTTP.Timeout, logger),
		videos,
		dash.NewPlayerMatcher(cfg.Video.PlayerHost),
		localizer,
		localstorage.NewLocalStorage(cfg.Output.Dir),
		openLedger,
		opts,
		logger,
		m,
	)

	result, err := orchestrator.Run(ctx, ref)
	if result != nil && result.CourseRoot != "" {
		printSummary(result)
	}
	if errors.Is(err, context.Canceled) {
		logger.Warn("interrupted, progress is saved up to the last lesson")
		return 130
	}
	if err != nil {
		logger.Error("archive run failed", "error", err)
		return 1
	}

	if cfg.Publish.BucketURL != "" {
		if err := publishCourse(ctx, cfg.Publish, result.CourseRoot, logger, m); err != nil {
			logger.Error("publish failed", "error", err)
			return 1
		}
	}
	return 0
}

// resolveCourse turns the -course argument into a reference. The course
// name comes from the enrollment list when it can be found there.
func resolveCourse(ctx context.Context, source *lms.Client, arg string, logger hclog.Logger) domain.CourseRef {
	ref := domain.CourseRef{URL: arg}
	if strings.HasPrefix(arg, "course-v1:") {
		ref.ID = arg
		ref.URL = source.CourseHomeURL(arg)
	} else if id, err := lms.CourseID(arg); err == nil {
		ref.ID = id
	}
	if ref.ID == "" {
		return ref
	}

	courses, err := source.EnrolledCourses(ctx)
	if err != nil {
		logger.Debug("enrollment list unavailable, course name comes from the outline", "error", err)
		return ref
	}
	for _, c := range courses {
		if c.ID == ref.ID {
			ref.Name = c.Name
			break
		}
	}
	return ref
}

func printCourses(ctx context.Context, source *lms.Client, logger hclog.Logger) int {
	courses, err := source.EnrolledCourses(ctx)
	if err != nil {
		logger.Error("failed to list courses", "error", err)
		return 1
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tNAME")
	for i, c := range courses {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, c.ID, c.Name)
	}
	_ = tw.Flush()
	return 0
}

func printSummary(r *domain.RunResult) {
	fmt.Println("\n=== Run Summary ===")
	fmt.Printf("Run ID:       %s\n", r.RunID)
	fmt.Printf("Course:       %s\n", r.CourseName)
	fmt.Printf("Directory:    %s\n", r.CourseRoot)
	fmt.Printf("Pages:        %d\n", r.Pages)
	fmt.Printf("Videos:       %d\n", r.Videos)
	fmt.Printf("Skipped:      %d\n", r.Skipped)
	fmt.Printf("Failed:       %d\n", r.Failed)
	if !r.CompletedAt.IsZero() {
		fmt.Printf("Completed At: %s\n", r.CompletedAt.Format(time.RFC3339))
	}
}

// progressCommand runs the progress maintenance commands over every course
// folder under dir.
func progressCommand(dir string, show, reset, clean bool, logger hclog.Logger) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("cannot read output directory", "dir", dir, "error", err)
		return 1
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		found, err := ledger.Find(filepath.Join(dir, e.Name()))
		if err != nil {
			logger.Warn("cannot search course folder", "dir", e.Name(), "error", err)
			continue
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		fmt.Printf("No progress files found in %s\n", dir)
		return 0
	}

	status := 0
	for _, f := range files {
		lg, err := ledger.Load(f, logger)
		if err != nil {
			logger.Error("cannot read progress", "file", f, "error", err)
			status = 1
			continue
		}
		if clean {
			if err := lg.Remove(); err != nil {
				logger.Error("cannot remove progress", "file", f, "error", err)
				status = 1
				continue
			}
			fmt.Printf("Removed %s\n", f)
			continue
		}
		if reset {
			n, err := lg.ResetFailed()
			if err != nil {
				logger.Error("cannot reset failed entries", "file", f, "error", err)
				status = 1
			} else {
				fmt.Printf("%s: %d failed entries reset\n", f, n)
			}
		}
		if show {
			if err := lg.WriteReport(os.Stdout); err != nil {
				status = 1
			}
			fmt.Println()
		}
	}
	return status
}

func publishCourse(ctx context.Context, cfg config.PublishConfig, courseRoot string, logger hclog.Logger, m *metrics.Metrics) error {
	p, err := publish.Open(ctx, cfg.BucketURL, cfg.Prefix, logger, m)
	if err != nil {
		return err
	}
	defer p.Close()
	_, err = p.Mirror(ctx, courseRoot)
	return err
}
