package explore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"explorer/internal/engine"
	"explorer/internal/manifest"
)

// Bundle table names under data/.
const (
	BundleMatrix    = "M"
	BundleTrainMask = "S_train"
)

// Load reads every table a manifest names, concurrently, and builds the explorer.
func Load(ctx context.Context, m *manifest.Manifest, opts Options) (*Explorer, error) {
	start := time.Now()

	in, err := readInputs(ctx, m)
	if err != nil {
		return nil, err
	}
	ex, err := Build(*in, opts)
	if err != nil {
		return nil, err
	}

	slog.Info("explorer loaded", "name", m.Name, "elapsed", time.Since(start))
	return ex, nil
}

func readInputs(ctx context.Context, m *manifest.Manifest) (*Inputs, error) {
	in := &Inputs{
		Name:          m.Name,
		SamplerOrder:  m.SamplerOrder,
		Symmetric:     m.Symmetric,
		Methods:       m.ClusterMethods,
		InitialMethod: m.InitialMethod,
		Columns:       m.Columns,
	}

	if m.PredictMap != nil {
		predict, err := loadPredict(ctx, m.PredictMap)
		if err != nil {
			return nil, err
		}
		in.Predict = predict
	}

	if m.Bundle != "" {
		b, err := engine.LoadBundle(m.Bundle)
		if err != nil {
			return nil, err
		}
		return in, fromBundle(in, b)
	}

	var (
		mu       sync.Mutex
		matrix   *engine.ColumnStore
		train    *engine.ColumnStore
		samplers = make(map[string]*engine.ColumnStore, len(m.Samplers))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cs, err := engine.LoadTable(m.Matrix)
		matrix = cs
		return err
	})
	if m.TrainMask != "" {
		g.Go(func() error {
			cs, err := engine.LoadTable(m.TrainMask)
			train = cs
			return err
		})
	}
	for name, path := range m.Samplers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cs, err := engine.LoadTable(path)
			if err != nil {
				return fmt.Errorf("sampler %q: %w", name, err)
			}
			mu.Lock()
			samplers[name] = cs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	in.Samplers = samplers
	return in, setMatrices(in, matrix, train)
}

// loadPredict reads the prediction entries and every map table concurrently.
// Prediction maps are not part of an Arrow bundle.
func loadPredict(ctx context.Context, cfg *manifest.PredictMap) (*PredictInputs, error) {
	p := &PredictInputs{
		Config: *cfg,
		Maps:   make(map[string]map[string]*engine.ColumnStore, len(cfg.Maps)),
	}
	for sampler, kinds := range cfg.Maps {
		p.Maps[sampler] = make(map[string]*engine.ColumnStore, len(kinds))
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cs, err := engine.LoadTable(cfg.Entries)
		if err != nil {
			return fmt.Errorf("prediction entries: %w", err)
		}
		p.Entries = cs
		return nil
	})
	for sampler, kinds := range cfg.Maps {
		for kind, path := range kinds {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				cs, err := engine.LoadTable(path)
				if err != nil {
					return fmt.Errorf("prediction map %s/%s: %w", sampler, kind, err)
				}
				mu.Lock()
				p.Maps[sampler][kind] = cs
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}

func fromBundle(in *Inputs, b *engine.Bundle) error {
	matrix, ok := b.Data[BundleMatrix]
	if !ok {
		return fmt.Errorf("bundle: missing data/%s", BundleMatrix)
	}
	if len(b.Samples) == 0 {
		return manifest.ErrNoSamplers
	}
	in.Samplers = b.Samples
	return setMatrices(in, matrix, b.Data[BundleTrainMask])
}

func setMatrices(in *Inputs, matrix, train *engine.ColumnStore) error {
	var err error
	if in.Matrix, err = engine.MatrixFromStore(matrix); err != nil {
		return fmt.Errorf("matrix: %w", err)
	}
	if train != nil {
		if in.TrainMask, err = engine.MatrixFromStore(train); err != nil {
			return fmt.Errorf("training mask: %w", err)
		}
	}
	return nil
}

// BundleFromManifest packs the loaded inputs of a manifest into an Arrow bundle.
func BundleFromManifest(ctx context.Context, m *manifest.Manifest) (*engine.Bundle, error) {
	if m.Bundle != "" {
		return engine.LoadBundle(m.Bundle)
	}

	b := &engine.Bundle{
		Data:    make(map[string]*engine.ColumnStore, 2),
		Samples: make(map[string]*engine.ColumnStore, len(m.Samplers)),
	}
	var mu sync.Mutex
	put := func(dst map[string]*engine.ColumnStore, name, path string) func() error {
		return func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cs, err := engine.LoadTable(path)
			if err != nil {
				return err
			}
			mu.Lock()
			dst[name] = cs
			mu.Unlock()
			return nil
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(put(b.Data, BundleMatrix, m.Matrix))
	if m.TrainMask != "" {
		g.Go(put(b.Data, BundleTrainMask, m.TrainMask))
	}
	for name, path := range m.Samplers {
		g.Go(put(b.Samples, name, path))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return b, nil
}
