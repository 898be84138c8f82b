package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vecbuf"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/promcollector"
	"github.com/hupe1980/vecbuf/remote"
)

func newCreateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create the remote collection and initialize the buffer",
		Long: `Create provisions the remote collection (or attaches to remote.host),
uploads the records already in the base store unless skip_build is set,
and writes the buffer metadata.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := g.openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.close()

			fmt.Fprintf(cmd.OutOrStdout(), "created index %q on %s\n", s.cfg.Name, s.index.Host())
			return nil
		},
	}
}

// record is one line of an insert file.
type record struct {
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func newInsertCmd(g *globalFlags) *cobra.Command {
	var (
		vector string
		file   string
		tids   []string
	)

	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Append records to the buffer",
		Long: `Insert writes records to the base store and appends their tuple ids to
the buffer. Use --vector for a single record, --file for a JSON lines file
of {"vector": [...], "metadata": {...}} objects, or --tid to append tuple
ids that already exist in the base store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := g.openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()

			for _, hex := range tids {
				tid, err := model.ParseHexTupleID(hex)
				if err != nil {
					return err
				}
				if err := s.index.Insert(ctx, tid); err != nil {
					return err
				}
				fmt.Fprintln(out, tid.Hex())
			}

			if vector != "" {
				v, err := parseVector(vector)
				if err != nil {
					return err
				}
				tid, err := s.index.InsertRecord(ctx, v, nil)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, tid.Hex())
			}

			if file != "" {
				return insertFile(ctx, s.index, file, out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vector, "vector", "", "comma separated vector components")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON lines file of records, - for stdin")
	cmd.Flags().StringSliceVar(&tids, "tid", nil, "existing tuple id in hex")

	return cmd
}

func insertFile(ctx context.Context, ix *vecbuf.Index, path string, out io.Writer) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		tid, err := ix.InsertRecord(ctx, rec.Vector, rec.Metadata)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		fmt.Fprintln(out, tid.Hex())
	}
	return sc.Err()
}

func newFlushCmd(g *globalFlags) *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Upload completed batches to the remote",
		Long: `Flush uploads every completed batch and advances the flush checkpoint.
With --interval it keeps running and flushes periodically until
interrupted. --metrics-addr exposes Prometheus metrics while it runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			var opts []vecbuf.Option
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				opts = append(opts, vecbuf.WithMetricsCollector(promcollector.New(reg, nil)))

				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						fmt.Fprintln(cmd.ErrOrStderr(), "metrics server:", err)
					}
				}()
				defer srv.Close()
			}

			s, err := g.openSession(ctx, false, opts...)
			if err != nil {
				return err
			}
			defer s.close()

			if interval <= 0 {
				return s.index.Flush(ctx)
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				if err := s.index.Flush(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					// Failed batches stay buffered and are retried on the next tick.
					s.logger.Warn("flush failed", "error", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "flush repeatedly at this interval")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	var (
		vector   string
		topK     int
		limit    int
		filter   string
		maxScan  int
		maxProbe int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a nearest neighbor query",
		Long: `Search merges the remote ANN results with the buffered tail and prints
one JSON object per candidate, ordered by distance.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			query, err := parseVector(vector)
			if err != nil {
				return err
			}

			var opts []vecbuf.SearchOption
			if topK > 0 {
				opts = append(opts, vecbuf.WithTopK(topK))
			}
			if limit > 0 {
				opts = append(opts, vecbuf.WithLimit(limit))
			}
			if cmd.Flags().Changed("max-buffer-scan") {
				opts = append(opts, vecbuf.WithMaxBufferScan(maxScan))
			}
			if cmd.Flags().Changed("max-probe") {
				opts = append(opts, vecbuf.WithMaxFetchedForLiveness(maxProbe))
			}
			if filter != "" {
				f, err := parseFilter(filter)
				if err != nil {
					return err
				}
				opts = append(opts, vecbuf.WithFilter(f))
			}

			s, err := g.openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			results, err := s.index.Search(ctx, query, opts...)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, c := range results {
				if err := enc.Encode(toResult(c)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vector, "vector", "", "comma separated query vector")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "remote results to request (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum candidates to print")
	cmd.Flags().StringVar(&filter, "filter", "", `JSON filter, e.g. [{"field":"color","op":"eq","value":"red"}]`)
	cmd.Flags().IntVar(&maxScan, "max-buffer-scan", 0, "buffered tuples to score locally")
	cmd.Flags().IntVar(&maxProbe, "max-probe", 0, "checkpoints to probe for liveness")
	_ = cmd.MarkFlagRequired("vector")

	return cmd
}

type result struct {
	TID         string  `json:"tid"`
	Distance    float32 `json:"distance"`
	Origin      string  `json:"origin"`
	RemoteScore float32 `json:"remote_score,omitempty"`
	Approx      bool    `json:"approx"`
	Recheck     bool    `json:"recheck"`
}

func toResult(c vecbuf.Candidate) result {
	return result{
		TID:         c.ID.Hex(),
		Distance:    c.Distance,
		Origin:      c.Origin.String(),
		RemoteScore: c.RemoteScore,
		Approx:      c.Approx,
		Recheck:     c.Recheck,
	}
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print checkpoint positions and buffered counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := g.openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			st, err := s.index.Stats(ctx)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(newStatsView(st))
		},
	}
}

type checkpointView struct {
	Seq       int64  `yaml:"seq"`
	Page      string `yaml:"page"`
	TID       string `yaml:"tid"`
	Preceding int64  `yaml:"preceding"`
}

type statsView struct {
	Provider    string         `yaml:"provider"`
	Host        string         `yaml:"host"`
	Collection  string         `yaml:"collection"`
	Dimensions  int            `yaml:"dimensions"`
	Ready       checkpointView `yaml:"ready"`
	Flush       checkpointView `yaml:"flush"`
	Latest      checkpointView `yaml:"latest"`
	InsertPage  string         `yaml:"insert_page"`
	Unflushed   int64          `yaml:"unflushed"`
	Unconfirmed int64          `yaml:"unconfirmed"`
	Pages       uint32         `yaml:"pages"`
}

func newCheckpointView(c model.Checkpoint) checkpointView {
	return checkpointView{
		Seq:       c.Seq,
		Page:      c.Position.String(),
		TID:       c.Representative.Hex(),
		Preceding: c.PrecedingTuples,
	}
}

func newStatsView(st vecbuf.Stats) statsView {
	return statsView{
		Provider:    st.Provider,
		Host:        st.Host,
		Collection:  st.Collection,
		Dimensions:  st.Dimensions,
		Ready:       newCheckpointView(st.Ready),
		Flush:       newCheckpointView(st.Flush),
		Latest:      newCheckpointView(st.Latest),
		InsertPage:  st.InsertPage.String(),
		Unflushed:   st.Unflushed,
		Unconfirmed: st.Unconfirmed,
		Pages:       st.Pages,
	}
}

func newInspectCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Dump the buffer metadata and every page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := g.openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.close()

			return s.index.Inspect(ctx, cmd.OutOrStdout())
		},
	}
}

func parseVector(s string) ([]float32, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, errors.New("empty vector")
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func parseFilter(s string) (remote.Filter, error) {
	var f remote.Filter
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
