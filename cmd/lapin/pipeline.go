package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/chart"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/cleaner"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/config"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/db"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/decompose"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/manager"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/monitoring"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/security"
)

var errSuperseded = errors.New("request superseded")

// newManager builds a Manager from the pipeline configuration. results and
// metrics may be nil. verbose logs every cleaning event.
func newManager(cfg *config.PipelineConfig, results *db.DB, metrics *monitoring.Metrics, verbose bool) *manager.Manager {
	cc := cleaner.Config{SnapToValid: cfg.GetSnapBoundaries()}
	if verbose {
		cc.Observer = cleaner.LogEvents
	}
	mc := manager.Config{
		Cleaner: cleaner.New(cc),
		Decomposer: decompose.New(decompose.NewSTL(decompose.STLConfig{
			Robust:           cfg.GetRobust(),
			RobustIterations: cfg.GetRobustIterations(),
		})),
		Metrics:     metrics,
		Logging:     cfg.GetLogging(),
		PreCompute:  cfg.GetPreCompute(),
		TaskTimeout: cfg.GetTaskTimeout(),
	}
	if results != nil {
		mc.Recorder = results
	}
	return manager.New(mc)
}

// await waits for the single result of a manager request.
func await[T any](ctx context.Context, ch <-chan T) (T, error) {
	var zero T
	select {
	case v, ok := <-ch:
		if !ok {
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			return zero, errSuperseded
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func loadRecording(ctx context.Context, m *manager.Manager, path string) (manager.LoadResult, error) {
	res, err := await(ctx, m.Load(path))
	if err != nil {
		return res, err
	}
	if res.Err != nil {
		return res, fmt.Errorf("load %s: %w", path, res.Err)
	}
	return res, nil
}

type channelReport struct {
	Measure        experiment.Measure     `json:"measure"`
	KeptSamples    int                    `json:"kept_samples"`
	OmittedSamples int                    `json:"omitted_samples"`
	OmittedRuns    int                    `json:"omitted_runs"`
	Phases         []experiment.Phase     `json:"phases"`
	Omitted        []experiment.TimeRange `json:"omitted"`
}

func cmdClean(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("clean", stderr)
	file := fs.String("file", "", "Recording to clean (.txt, .tsv or .xlsx)")
	measure := fs.String("measure", "", "Channel to clean (default: every channel)")
	asJSON := fs.Bool("json", false, "Print the report as JSON")
	cfg, done, err := common.parse(fs, args, stdout)
	if err != nil || done {
		return err
	}
	if *file == "" {
		return errors.New("clean: -file is required")
	}

	results, err := openDB(common.dbPath)
	if err != nil {
		return err
	}
	if results != nil {
		defer results.Close()
	}
	m := newManager(cfg, results, nil, common.verbose)
	defer m.Shutdown()
	m.SetPreComputingEnabled(false)

	loaded, err := loadRecording(ctx, m, *file)
	if err != nil {
		return err
	}
	measures := loaded.Measures
	if *measure != "" {
		measures = []experiment.Measure{experiment.Measure(*measure)}
	}

	reports := make([]channelReport, 0, len(measures))
	for _, ms := range measures {
		res, err := await(ctx, m.Clean(ctx, ms))
		if err != nil {
			return err
		}
		if res.Err != nil {
			return fmt.Errorf("clean %s: %w", ms, res.Err)
		}
		reports = append(reports, channelReport{
			Measure:        ms,
			KeptSamples:    len(res.Store.Points),
			OmittedSamples: res.Omissions.Count(),
			OmittedRuns:    res.Omissions.Len(),
			Phases:         res.Store.Phases.Phases(),
			Omitted:        res.Omissions.Ranges(),
		})
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	return printReports(stdout, *file, reports)
}

func printReports(w io.Writer, path string, reports []channelReport) error {
	fmt.Fprintf(w, "%s\n", path)
	for _, r := range reports {
		fmt.Fprintf(w, "\n%s: kept %d samples, omitted %d in %d runs\n", r.Measure, r.KeptSamples, r.OmittedSamples, r.OmittedRuns)
		tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "  PHASE\tSTART\tEND")
		for _, p := range r.Phases {
			fmt.Fprintf(tw, "  %s\t%g\t%g\n", p.Tag, p.Range.Min, p.Range.Max)
		}
		if len(r.Omitted) > 0 {
			fmt.Fprintln(tw, "  OMITTED\tSTART\tEND")
			for i, o := range r.Omitted {
				fmt.Fprintf(tw, "  #%d\t%g\t%g\n", i+1, o.Min, o.Max)
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func cmdDecompose(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, common := newFlagSet("decompose", stderr)
	file := fs.String("file", "", "Recording to read (.txt, .tsv or .xlsx)")
	measure := fs.String("measure", "", "Channel to decompose")
	period := fs.Int("period", 0, "Seasonal period in samples (default from configuration)")
	htmlOut := fs.String("html", "", "Write an interactive chart to this file")
	pngOut := fs.String("png", "", "Write a static chart to this file")
	cfg, done, err := common.parse(fs, args, stdout)
	if err != nil || done {
		return err
	}
	if *file == "" || *measure == "" {
		return errors.New("decompose: -file and -measure are required")
	}
	if *period == 0 {
		*period = cfg.GetPeriod()
	}

	results, err := openDB(common.dbPath)
	if err != nil {
		return err
	}
	if results != nil {
		defer results.Close()
	}
	m := newManager(cfg, results, nil, common.verbose)
	defer m.Shutdown()
	m.SetPreComputingEnabled(false)

	if _, err := loadRecording(ctx, m, *file); err != nil {
		return err
	}
	ms := experiment.Measure(*measure)
	res, err := await(ctx, m.Decompose(ctx, ms, *period))
	if err != nil {
		return err
	}
	if res.Err != nil {
		return fmt.Errorf("decompose %s: %w", ms, res.Err)
	}
	phases, err := m.Phases(ms)
	if err != nil {
		return err
	}

	d := res.Decomposition
	shape := "trend, seasonal and noise"
	if !d.Decomposed() {
		shape = "raw only, shorter than two periods"
	}
	fmt.Fprintf(stdout, "%s / %s: %d samples, period %d (%s)\n", *file, ms, d.Len(), d.Period, shape)

	if *htmlOut == "" && *pngOut == "" {
		if err := os.MkdirAll(cfg.GetChartDir(), 0o755); err != nil {
			return fmt.Errorf("create chart directory: %w", err)
		}
		*htmlOut = filepath.Join(cfg.GetChartDir(), chartName(*file, ms, d.Period)+".html")
	}

	title := fmt.Sprintf("%s: %s", filepath.Base(*file), ms)
	if *htmlOut != "" {
		if err := writeHTML(*htmlOut, d, chart.HTMLOptions{Title: title, Measure: ms, Phases: phases}); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s\n", *htmlOut)
	}
	if *pngOut != "" {
		if err := chart.SavePNG(*pngOut, d, chart.PNGOptions{Title: title, Phases: phases}); err != nil {
			return fmt.Errorf("write %s: %w", *pngOut, err)
		}
		fmt.Fprintf(stdout, "wrote %s\n", *pngOut)
	}
	return nil
}

func writeHTML(path string, d *decompose.Decomposition, o chart.HTMLOptions) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := chart.RenderHTML(f, d, o); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// chartName builds a file name like "recording-Pression_Arterielle-p200".
func chartName(path string, m experiment.Measure, period int) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return fmt.Sprintf("%s-%s-p%d", security.SanitizeFilename(base), security.SanitizeFilename(string(m)), period)
}
