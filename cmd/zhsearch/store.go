package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mycok/zhsearch/pagestore/page"
	"github.com/mycok/zhsearch/pagestore/store/cdb"
	"github.com/mycok/zhsearch/pagestore/store/memory"
	"github.com/mycok/zhsearch/pagestore/store/sqlite"
)

// openStore returns the page store selected by the scheme of dsn.
func openStore(dsn string, logger *logrus.Entry) (page.Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("page store dsn has not been provided")
	}

	uri, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("page store: %w", err)
	}

	switch uri.Scheme {
	case "memory", "in-memory":
		logger.Info("using in-memory page store")
		return memory.NewInMemoryStore(), nil
	case "sqlite":
		path := strings.TrimPrefix(dsn, "sqlite://")
		logger.WithField("path", path).Info("using sqlite page store")
		store, err := sqlite.NewStore(path)
		if err != nil {
			return nil, err
		}

		return store, nil
	case "postgresql", "postgres":
		// Strip credentials before logging.
		logger.WithField("host", uri.Host).Info("using CockroachDB page store")
		store, err := cdb.NewCockroachDBStore(dsn)
		if err != nil {
			return nil, fmt.Errorf("page store: %w", err)
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unsupported page store URI scheme: %q", uri.Scheme)
	}
}
