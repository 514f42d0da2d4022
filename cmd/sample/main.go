package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lychee-technology/ria"
	"github.com/lychee-technology/ria/factory"
	"github.com/lychee-technology/ria/internal"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("RIA_CONFIG"), "path to a YAML config file")
	local := flag.Bool("local", false, "run against an in-process domain service instead of client.base_url")
	typeName := flag.String("type", "Customer", "entity type to work with")
	add := flag.String("add", "", `JSON values of a new entity, e.g. {"name":"Ada"}`)
	key := flag.String("key", "", "key of a loaded entity to edit")
	member := flag.String("member", "", "member to set on the edited entity")
	value := flag.String("value", "", "JSON value assigned to -member")
	flag.Parse()

	cfg, err := ria.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	logger, err := factory.NewLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		client   ria.DomainClient
		registry ria.TypeRegistry
	)
	if *local {
		service, closeStore, err := factory.NewDomainService(ctx, cfg)
		if err != nil {
			sugar.Fatalf("failed to create domain service: %v", err)
		}
		defer closeStore()
		service.RegisterInvoke("Count", countHandler(service))
		client = internal.NewLocalClient(service)
		registry = service.Registry()
	} else {
		registry, err = factory.NewTypeRegistry(cfg)
		if err != nil {
			sugar.Fatalf("failed to load entity types: %v", err)
		}
		client = factory.NewDomainClient(cfg, registry)
	}

	w := NewWorkflow(factory.NewDomainContext(cfg, client), client, registry, sugar)
	if err := run(ctx, w, *typeName, *add, *key, *member, *value); err != nil {
		sugar.Fatalf("sample failed: %v", err)
	}
}

func run(ctx context.Context, w *Workflow, typeName, add, key, member, value string) error {
	entities, err := w.LoadAll(ctx, typeName)
	if err != nil {
		return err
	}
	for _, e := range entities {
		k, _ := e.Key()
		w.logger.Infow("entity", "type", typeName, "key", k.String(), "state", e.State().String())
	}

	if add != "" {
		var values map[string]any
		if err := json.Unmarshal([]byte(add), &values); err != nil {
			return fmt.Errorf("invalid -add value: %w", err)
		}
		if _, err := w.Add(typeName, values); err != nil {
			return err
		}
	}
	if key != "" && member != "" {
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		if _, err := w.Edit(typeName, ria.MustEntityKey(key), member, v); err != nil {
			return err
		}
	}

	if err := w.Submit(ctx); err != nil {
		return err
	}
	n, err := w.Count(ctx, typeName)
	if err != nil {
		return err
	}
	w.logger.Infow("stored entities", "type", typeName, "count", n)
	return nil
}

func countHandler(service *internal.DomainService) internal.InvokeHandler {
	return func(ctx context.Context, params map[string]any) (any, []ria.ValidationResult, error) {
		typeName, _ := params["entityType"].(string)
		res, err := service.Query(ctx, &ria.EntityQuery{EntityType: typeName, IncludeTotalCount: true})
		if err != nil {
			return nil, nil, err
		}
		return res.TotalCount, nil, nil
	}
}
