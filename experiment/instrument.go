// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package experiment

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/petenewcomb/wfsim/experiment"

// StageFunc is one step of an experiment.
type StageFunc func(ctx context.Context) error

// LoggedStage logs the start and outcome of a stage with its duration.
func LoggedStage(name string, fn StageFunc) StageFunc {
	return func(ctx context.Context) error {
		logger := zap.L().Named("experiment")
		logger.Debug("Starting stage", zap.String("stage", name))

		startTime := time.Now()
		err := fn(ctx)
		duration := time.Since(startTime)

		if err != nil {
			logger.Error("Stage failed",
				zap.String("stage", name),
				zap.Duration("duration", duration),
				zap.Error(err))
		} else {
			logger.Debug("Stage completed",
				zap.String("stage", name),
				zap.Duration("duration", duration))
		}
		return err
	}
}

// MetricsStage records the count, duration and failures of a stage with the
// global meter provider.
func MetricsStage(name string, fn StageFunc) StageFunc {
	return func(ctx context.Context) error {
		meter := otel.GetMeterProvider().Meter(instrumentationName)
		metricName := "wfsim.stage." + name

		stageCounter, _ := meter.Int64Counter(metricName + ".count")
		stageDuration, _ := meter.Float64Histogram(metricName + ".duration")
		stageCounter.Add(ctx, 1)

		startTime := time.Now()
		err := fn(ctx)
		stageDuration.Record(ctx, time.Since(startTime).Seconds())

		if err != nil {
			errorCounter, _ := meter.Int64Counter(metricName + ".errors")
			errorCounter.Add(ctx, 1)
		}
		return err
	}
}

// TracedStage runs a stage in its own span.
func TracedStage(name string, fn StageFunc) StageFunc {
	return func(ctx context.Context) error {
		tracer := otel.Tracer(instrumentationName)
		ctx, span := tracer.Start(ctx, name)
		defer span.End()

		err := fn(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

// InstrumentedStage applies logging, metrics and tracing to a stage.
func InstrumentedStage(name string, fn StageFunc) StageFunc {
	return TracedStage(name, MetricsStage(name, LoggedStage(name, fn)))
}
