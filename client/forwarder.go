package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vkuznet/gordo-client/frame"
	"github.com/vkuznet/gordo-client/machine"
)

// ForwardRequest holds predictions of a machine to forward
type ForwardRequest struct {
	Machine             *machine.Machine
	Predictions         *frame.Frame
	ResampledSensorData *frame.Frame // nil unless resampled sensors are forwarded
	Metadata            map[string]string
}

// Forwarder sends predictions to their destination
type Forwarder interface {
	Forward(ctx context.Context, req ForwardRequest) error
}

// ForwarderFunc adapts function to Forwarder interface
type ForwarderFunc func(ctx context.Context, req ForwardRequest) error

// Forward implements Forwarder
func (f ForwarderFunc) Forward(ctx context.Context, req ForwardRequest) error {
	return f(ctx, req)
}

// DirectoryForwarder writes predictions into gzip compressed CSV files
type DirectoryForwarder struct {
	Dir string
}

// Forward implements Forwarder
func (d DirectoryForwarder) Forward(_ context.Context, req ForwardRequest) error {
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return err
	}
	name := req.Machine.Name
	if err := req.Predictions.WriteCSVGzip(filepath.Join(d.Dir, name+".csv.gz")); err != nil {
		return fmt.Errorf("unable to write predictions of machine %s: %w", name, err)
	}
	if req.ResampledSensorData != nil {
		fname := filepath.Join(d.Dir, name+"-resampled.csv.gz")
		if err := req.ResampledSensorData.WriteCSVGzip(fname); err != nil {
			return fmt.Errorf("unable to write resampled sensors of machine %s: %w", name, err)
		}
	}
	return nil
}

// MultiForwarder forwards predictions to every forwarder it holds
type MultiForwarder []Forwarder

// Forward implements Forwarder, all forwarders are called even if some fail
func (fs MultiForwarder) Forward(ctx context.Context, req ForwardRequest) error {
	var errs []error
	for _, f := range fs {
		if err := f.Forward(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
