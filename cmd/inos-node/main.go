package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inos-labs/smcc/kernel"
	"github.com/inos-labs/smcc/kernel/threads/sab"
	"github.com/inos-labs/smcc/kernel/threads/supervisor/units"
	"github.com/inos-labs/smcc/kernel/utils"
	"github.com/inos-labs/smcc/kernel/wasm"
)

func tierFromFlag(name string) (sab.SizeTier, error) {
	switch name {
	case "32":
		return sab.SizeTier32, nil
	case "64":
		return sab.SizeTier64, nil
	case "128":
		return sab.SizeTier128, nil
	case "256":
		return sab.SizeTier256, nil
	default:
		return 0, fmt.Errorf("unknown tier %q (want one of 32, 64, 128, 256)", name)
	}
}

func main() {
	tierFlag := flag.String("tier", "32", "shared region size tier in MiB: 32, 64, 128, or 256")
	shmPath := flag.String("shm", "", "path to a memory-mapped shared region file (empty uses an in-process region)")
	flag.Parse()

	fmt.Println("INOS node starting...")

	tier, err := tierFromFlag(*tierFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "inos-node:", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(utils.LoggerConfig{Level: utils.INFO, Component: "inos-node", Colorize: true})

	mem, err := openRegion(*shmPath, tier)
	if err != nil {
		logger.Fatal("failed to open shared region", utils.Err(err))
	}

	initializer, err := sab.NewSABInitializer(mem, tier)
	if err != nil {
		logger.Fatal("failed to build region initializer", utils.Err(err))
	}
	if err := initializer.Initialize(); err != nil {
		logger.Fatal("failed to initialize shared region", utils.Err(err))
	}
	logger.Info("shared region initialized",
		utils.Uint64("size_bytes", uint64(tier)),
		utils.Int("regions", initializer.GetStats().RegionsCount),
	)

	bridge, err := kernel.NewBridge(mem)
	if err != nil {
		logger.Fatal("failed to start bridge facade", utils.Err(err))
	}
	epoch := bridge.Epoch()

	cryptoSup := units.NewCryptoSupervisor(epoch, nil)
	dataSup := units.NewDataSupervisor(epoch, nil)
	mlSup := units.NewMLSupervisor(epoch, nil)
	storageSup := units.NewStorageSupervisor(epoch, nil)
	wasmSup := wasm.NewWasmSupervisor(epoch)

	type runner interface {
		Start(ctx context.Context) error
		Stop() error
	}
	supervisors := map[string]runner{
		"crypto":  cryptoSup,
		"data":    dataSup,
		"ml":      mlSup,
		"storage": storageSup,
		"wasm":    wasmSup,
	}

	ctx, cancel := context.WithCancel(context.Background())
	shutdown := utils.NewGracefulShutdown(10*time.Second, logger)
	for name, sup := range supervisors {
		name, sup := name, sup
		go func() {
			if err := sup.Start(ctx); err != nil {
				logger.Error("supervisor stopped with error", utils.String("supervisor", name), utils.Err(err))
			}
		}()
		shutdown.Register(sup.Stop)
	}

	logger.Info("all capability supervisors started",
		utils.Int("count", len(supervisors)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	cancel()
	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.Error("graceful shutdown reported errors", utils.Err(err))
	}

	fmt.Println("INOS node stopped.")
}

// openRegion opens a memory-mapped shared region at path, or an
// in-process region sized to tier when path is empty (single-process
// development mode with no host-process SharedArrayBuffer to attach to).
func openRegion(path string, tier sab.SizeTier) (sab.MemoryProvider, error) {
	if path == "" {
		return sab.NewInMemoryProvider(uint32(tier)), nil
	}
	return sab.OpenSharedMemory(sab.SharedMemoryOptions{
		Path:   path,
		Size:   uint32(tier),
		Create: true,
	})
}
