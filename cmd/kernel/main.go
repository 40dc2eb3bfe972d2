// Command kernel boots the minikernel runtime: it wires the scheduler,
// virtual memory system, buffer cache, file namespace, and process table
// together and starts the two background daemons (writeback, readahead)
// that keep the buffer cache honest, then runs until interrupted.
//
// There is no real hardware to boot from (§1 Non-goals excludes a boot
// loader and ELF parsing), so this entry point plays the role of
// chentry.go/mkfs.go in the teacher tree: a small command that assembles
// the pieces the rest of the module defines, rather than the kernel
// itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"minikernel/internal/fs"
	"minikernel/internal/klog"
	"minikernel/internal/mem"
	"minikernel/internal/oommsg"
	"minikernel/internal/proc"
	"minikernel/internal/sched"
	ksys "minikernel/internal/syscall"
	"minikernel/internal/swap"
	"minikernel/internal/vm"
)

var log = klog.Subsys("kernel")

func main() {
	var (
		mlfqs       = pflag.Bool("mlfqs", false, "use the multi-level feedback queue scheduler instead of strict priority donation")
		debug       = pflag.Bool("debug", false, "enable verbose subsystem tracing")
		nframes     = pflag.Int("frames", 256, "physical frame table capacity (in pages)")
		nswapslots  = pflag.Int("swapslots", 256, "swap device capacity (in slots)")
		cacheSize   = pflag.Int("cachesize", 64, "buffer cache capacity (in sectors)")
		writeback   = pflag.Duration("writeback", 30*time.Second, "buffer cache writeback sweep interval")
		formatDisk  = pflag.Bool("format", false, "format (discard) the backing disk before mounting")
	)
	pflag.Parse()

	klog.SetDebug(*debug)

	mode := sched.ModePriority
	if *mlfqs {
		mode = sched.ModeMLFQS
	}
	log.Infof("boot: mode=%v frames=%d swapslots=%d cache=%d", mode, *nframes, *nswapslots, *cacheSize)

	swapDev := swap.NewMemDisk(*nswapslots)
	swapTab := swap.New(swapDev, *nswapslots)
	phys := mem.Phys_init(*nframes)
	vsys := vm.NewSystem(*nframes, swapTab, phys)

	fsDisk := fs.NewMemDisk()
	cache := fs.NewCache(fsDisk, *cacheSize)
	if *formatDisk {
		log.Info("format: discarding backing disk")
	}
	fstab := fs.NewFsTable(cache)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The three daemons share one errgroup so a panic or early return in
	// any of them cancels ctx for the others, the same way one dead
	// goroutine in a real kernel's daemon set should bring the rest down
	// rather than leak silently.
	var daemons errgroup.Group
	daemons.Go(func() error { defer cancel(); cache.WritebackDaemon(ctx, *writeback); return nil })
	daemons.Go(func() error { defer cancel(); cache.ReadAheadDaemon(ctx); return nil })
	daemons.Go(func() error { defer cancel(); oomMonitor(ctx); return nil })

	sc := sched.New(mode)
	procs := proc.NewTable()
	sys := &ksys.Sys_t{Procs: procs, Fs: fstab, Vm: vsys}
	_ = sys

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	boot := make(chan struct{})
	sc.Spawn("boot", (sched.PriMin+sched.PriMax)/2, func(t *sched.Thread_t) {
		log.Info("boot thread running; system idle, waiting for shutdown")
		close(boot)
		<-ctx.Done()
		sc.Exit(t)
	})
	<-boot

	<-stop
	fmt.Println()
	log.Info("shutdown requested, tearing down daemons")
	cancel()
	daemons.Wait()
}

// oomMonitor consumes oommsg.OomCh, the frame table's last-resort signal
// that every frame is pinned and eviction found no victim. This kernel
// has no second reclaim strategy beyond what obtainFrame already tried,
// so it just logs and acknowledges immediately; a real kernel would use
// this hook to kill a process or block the allocator.
func oomMonitor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-oommsg.OomCh:
			log.Warnf("out of frames: %d page(s) requested, no victim available", msg.Need)
			msg.Resume <- false
		}
	}
}
