package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-reconciler/internal/config"
	"github.com/sells-group/lead-reconciler/internal/store"
	"github.com/sells-group/lead-reconciler/pkg/salesforce"
)

// openStore connects to the store described by sc. name is "source" or
// "target" and only appears in errors and logs.
func openStore(ctx context.Context, name string, sc config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch sc.Driver {
	case config.DriverPostgres:
		st, err = store.NewPostgres(ctx, sc.DatabaseURL, sc.Schema, &sc.Pool)
	case config.DriverSQLite:
		st, err = store.NewSQLite(sc.DatabaseURL, sc.Schema)
	case config.DriverSalesforce:
		st, err = openSalesforce(ctx, sc)
	case config.DriverMemory:
		st, err = store.LoadMemory(sc.FixturePath, sc.Schema)
	default:
		return nil, eris.Errorf("unsupported %s store driver: %s", name, sc.Driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "open %s store", name)
	}

	zap.L().Debug("store opened", zap.String("store", name), zap.String("driver", sc.Driver))
	return st, nil
}

func openSalesforce(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	client, err := salesforce.Connect(sc.Salesforce)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSalesforce(client, sc.Schema)
	if err != nil {
		return nil, err
	}
	if err := st.Check(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// openStores opens both stores, closing the first if the second fails.
func openStores(ctx context.Context, c *config.Config) (src, tgt store.Store, err error) {
	src, err = openStore(ctx, "source", c.Source)
	if err != nil {
		return nil, nil, err
	}
	tgt, err = openStore(ctx, "target", c.Target)
	if err != nil {
		src.Close() //nolint:errcheck
		return nil, nil, err
	}
	return src, tgt, nil
}
