package modbus

import "context"

// ProbeResult is the working configuration an auto-detect sweep found
// (§4.6): the first (port, baud, unit) tuple that answered a cheap
// read_coils(unit, 0, 1) probe with a Normal response.
type ProbeResult struct {
	Port     string
	BaudRate int
	UnitID   byte
}

// AdapterFactory constructs a fresh, unopened SerialAdapter for one probe
// attempt. Each candidate port/baud pair gets its own adapter instance so
// a failed attempt never leaves a stale open port behind for the next
// candidate.
type AdapterFactory func() SerialAdapter

// Probe sweeps every combination of ports, bauds, and unitIDs, issuing
// ReadCoils(unit, 0, 1) against each and returning the first tuple that
// comes back Normal. It gives up after exhausting the cross product,
// generalizing the original implementation's rs485_device_finder /
// multi_device_scanner sweep from a print-and-collect script into a
// single first-match probe. A probe attempt never leaves its port open,
// win or lose: once the adapter has opened, Close runs on every exit path.
func Probe(ctx context.Context, newAdapter AdapterFactory, ports []string, bauds []int, unitIDs []byte) (*ProbeResult, error) {
	for _, port := range ports {
		for _, baud := range bauds {
			result, err := probeOne(ctx, newAdapter, port, baud, unitIDs)
			if err != nil {
				return nil, err
			}
			if result != nil {
				return result, nil
			}
		}
	}
	return nil, newTimeout("no device responded across %d port(s) x %d baud(s) x %d unit id(s)", len(ports), len(bauds), len(unitIDs))
}

// probeOne tests every unit ID against one (port, baud) pair. Once the
// adapter has opened it is closed before returning, regardless of outcome.
func probeOne(ctx context.Context, newAdapter AdapterFactory, port string, baud int, unitIDs []byte) (*ProbeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig(port, baud)
	cfg.Retries = 0
	cfg.TimeoutSeconds = 0.3
	cfg.StateTracking = false

	adapter := newAdapter()
	client := NewClient(adapter, cfg)
	if err := client.Open(); err != nil {
		return nil, nil
	}
	defer client.Close()

	for _, unit := range unitIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := client.ReadCoils(ctx, unit, 0, 1); err == nil {
			return &ProbeResult{Port: port, BaudRate: baud, UnitID: unit}, nil
		}
	}
	return nil, nil
}
