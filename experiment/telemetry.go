// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SetupTelemetry installs global OpenTelemetry providers for the paths set
// in config: a tracer provider writing every span as JSON to TracePath and a
// meter provider writing the stage metrics as JSON to MetricsPath. Unset
// paths leave the corresponding global provider alone. The returned function
// flushes everything and closes the files.
func SetupTelemetry(config TelemetryConfig) (func(context.Context) error, error) {
	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (func(context.Context) error, error) {
		_ = shutdown(context.Background())
		return nil, fmt.Errorf("%w: telemetry: %w", ErrConfiguration, err)
	}

	if config.TracePath != "" {
		file, err := os.Create(config.TracePath)
		if err != nil {
			return fail(err)
		}
		exporter, err := stdouttrace.New(
			stdouttrace.WithWriter(file),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			file.Close()
			return fail(err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
		)
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, func(ctx context.Context) error {
			return errors.Join(tp.Shutdown(ctx), file.Close())
		})
	}

	if config.MetricsPath != "" {
		file, err := os.Create(config.MetricsPath)
		if err != nil {
			return fail(err)
		}
		exporter, err := stdoutmetric.New(
			stdoutmetric.WithWriter(file),
			stdoutmetric.WithPrettyPrint(),
		)
		if err != nil {
			file.Close()
			return fail(err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, func(ctx context.Context) error {
			return errors.Join(mp.Shutdown(ctx), file.Close())
		})
	}

	return shutdown, nil
}
