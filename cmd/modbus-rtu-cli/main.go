package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fieldbus-go/modbusrtu"
)

func main() {
	var (
		port     = flag.String("port", "/dev/ttyUSB0", "serial device path")
		baud     = flag.Int("baud", 19200, "baud rate: 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200")
		unit     = flag.Int("unit", 1, "unit (slave) id")
		fnCode   = flag.Int("fn-code", 0x03, "function code: 0x01 0x02 0x03 0x04 0x05 0x06 0x0F 0x10")
		address  = flag.Int("address", 0, "starting address")
		quantity = flag.Int("quantity", 1, "quantity of coils/registers for a read (writes take their count from -values)")
		values   = flag.String("values", "", "comma-separated values for a write (0/1 for coils, u16 for registers)")
		timeout  = flag.Float64("timeout", 1.0, "per-attempt timeout in seconds")
		retries  = flag.Int("retries", 2, "additional attempts after the first failure")
		lenCRC   = flag.Bool("lenient-crc", false, "accept non-standard CRC variants on read responses")
		lenFn    = flag.Bool("lenient-fn", true, "accept whitelisted function-code echoes")
		lenUnit  = flag.Bool("lenient-unit", false, "accept broadcast/mismatched unit-id echoes")
		waveshare = flag.Bool("vendor-holding-fallback", false, "retry a failed 0x03 read with the Waveshare 0x43 variant")
		debug    = flag.Bool("debug", false, "log failed transaction attempts at debug level")
		probe    = flag.Bool("probe", false, "sweep baud rates and unit ids on -port instead of issuing one request")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *probe {
		runProbe(logger, *port)
		return
	}

	cfg := modbus.DefaultConfig(*port, *baud)
	cfg.TimeoutSeconds = *timeout
	cfg.Retries = uint8(*retries)
	cfg.LenientCRC = *lenCRC
	cfg.LenientFunctionCode = *lenFn
	cfg.LenientUnitID = *lenUnit
	cfg.VendorReadHoldingFallback = *waveshare

	client := modbus.NewClient(modbus.NewRTUAdapter(), cfg)
	client.SetLogger(&debugAdapter{logger})

	if err := client.Open(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeout*float64(*retries+2))*time.Second)
	defer cancel()

	result, err := exec(ctx, client, byte(*unit), byte(*fnCode), uint16(*address), uint16(*quantity), *values)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	out, _ := json.Marshal(result)
	fmt.Println(string(out))

	if tracker := client.Tracker(); tracker != nil {
		if snap, ok := tracker.Snapshot(*port, byte(*unit)); ok {
			snapOut, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Fprintln(os.Stderr, string(snapOut))
		}
	}
}

func exec(ctx context.Context, client *modbus.Client, unit, fnCode byte, address, quantity uint16, rawValues string) (interface{}, error) {
	switch fnCode {
	case modbus.FuncCodeReadCoils:
		return client.ReadCoils(ctx, unit, address, quantity)
	case modbus.FuncCodeReadDiscreteInputs:
		return client.ReadDiscreteInputs(ctx, unit, address, quantity)
	case modbus.FuncCodeReadHoldingRegisters:
		return client.ReadHoldingRegisters(ctx, unit, address, quantity)
	case modbus.FuncCodeReadInputRegisters:
		return client.ReadInputRegisters(ctx, unit, address, quantity)
	case modbus.FuncCodeWriteSingleCoil:
		v, err := parseBool(rawValues)
		if err != nil {
			return nil, err
		}
		return nil, client.WriteSingleCoil(ctx, unit, address, v)
	case modbus.FuncCodeWriteSingleRegister:
		v, err := parseUint16s(rawValues)
		if err != nil || len(v) != 1 {
			return nil, fmt.Errorf("write single register needs exactly one value")
		}
		return nil, client.WriteSingleRegister(ctx, unit, address, v[0])
	case modbus.FuncCodeWriteMultipleCoils:
		v, err := parseBools(rawValues)
		if err != nil {
			return nil, err
		}
		return nil, client.WriteMultipleCoils(ctx, unit, address, v)
	case modbus.FuncCodeWriteMultipleRegisters:
		v, err := parseUint16s(rawValues)
		if err != nil {
			return nil, err
		}
		return nil, client.WriteMultipleRegisters(ctx, unit, address, v)
	default:
		return nil, fmt.Errorf("unsupported function code 0x%02X", fnCode)
	}
}

func runProbe(logger *slog.Logger, port string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bauds := []int{9600, 19200, 38400, 57600}
	units := make([]byte, 10)
	for i := range units {
		units[i] = byte(i + 1)
	}

	result, err := modbus.Probe(ctx, func() modbus.SerialAdapter { return modbus.NewRTUAdapter() }, []string{port}, bauds, units)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	logger.Info("found device", "port", result.Port, "baud", result.BaudRate, "unit", result.UnitID)
}

func parseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "1", "true", "on", "ON":
		return true, nil
	case "0", "false", "off", "OFF", "":
		return false, nil
	default:
		return false, fmt.Errorf("cannot parse %q as a coil value", s)
	}
}

func parseBools(s string) ([]bool, error) {
	parts := strings.Split(s, ",")
	out := make([]bool, 0, len(parts))
	for _, p := range parts {
		v, err := parseBool(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseUint16s(s string) ([]uint16, error) {
	parts := strings.Split(s, ",")
	out := make([]uint16, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as a uint16: %w", p, err)
		}
		out = append(out, uint16(n))
	}
	return out, nil
}
