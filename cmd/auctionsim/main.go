package main

import (
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"

	"auctionsim/internal/agents"
	"auctionsim/internal/audit"
	"auctionsim/internal/engine"
	"auctionsim/internal/live"
	"auctionsim/internal/sim"
	"auctionsim/internal/store"
)

// fanoutSink feeds every engine visualization event to each attached
// sink.
type fanoutSink []engine.VisualizationSink

func (f fanoutSink) AddOrder(isBuy bool, volumeDelta, price int64) {
	for _, s := range f {
		s.AddOrder(isBuy, volumeDelta, price)
	}
}

func (f fanoutSink) AddTrade(seconds float64, price int64) {
	for _, s := range f {
		s.AddTrade(seconds, price)
	}
}

func main() {
	out := flag.String("out", "audit.csv", "audit trail output path")
	dbPath := flag.String("db", "auctionsim.db", "SQLite database path (empty = no persistence)")
	listen := flag.String("listen", "", "address for the live view server (empty = disabled)")
	duration := flag.Int64("duration", 300_000, "run length in simulated ms")
	warmup := flag.Int64("warmup", 30_000, "starting period length in simulated ms")
	seed := flag.Int64("seed", 1, "rng seed; identical seeds replay identical runs")
	price := flag.Int64("price", 127000, "seed trade price in cents")
	tick := flag.Int64("tick", 25, "tick size in cents")
	depth := flag.Int("depth", engine.DefaultSweepDepth, "market-order sweep depth")
	buffer := flag.Int("buffer", audit.DefaultCapacity, "audit buffer capacity in rows")
	fundBuyers := flag.Int("fund-buyers", 40, "number of fundamental buyers")
	fundSellers := flag.Int("fund-sellers", 40, "number of fundamental sellers")
	fastTraders := flag.Int("fast-traders", 4, "number of fast traders")
	marketMakers := flag.Int("market-makers", 2, "number of market makers")
	flag.Parse()

	// The durable audit sink: failure to create it is fatal.
	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("Failed to create audit file: %v", err)
	}
	defer f.Close()
	logger, err := audit.NewLogger(f, *buffer)
	if err != nil {
		log.Fatalf("Failed to initialize audit log: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	eng := engine.New(engine.Config{
		StartPrice: *price,
		SweepDepth: *depth,
	}, logger, rng)

	// Optional SQLite persistence.
	var st *store.Store
	var runID string
	var mirror *store.EventMirror
	if *dbPath != "" {
		st, err = store.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer st.Close()

		runID, err = st.CreateRun(*seed, *duration, *warmup, *price)
		if err != nil {
			log.Fatalf("Failed to create run record: %v", err)
		}
		mirror = store.NewEventMirror(st, runID)
	}

	// Optional live view.
	var liveServer *live.Server
	if *listen != "" {
		liveServer = live.NewServer()
		go func() {
			log.Printf("Live view listening on %s", *listen)
			if err := http.ListenAndServe(*listen, liveServer.Router()); err != nil {
				log.Printf("Live server stopped: %v", err)
			}
		}()
	}

	var sinks fanoutSink
	if mirror != nil {
		sinks = append(sinks, mirror)
	}
	if liveServer != nil {
		sinks = append(sinks, liveServer)
	}
	if len(sinks) > 0 {
		eng.SetVisualization(sinks)
	}

	population := agents.NewPopulation(eng, rng, agents.PopulationConfig{
		FundBuyers:   *fundBuyers,
		FundSellers:  *fundSellers,
		FastTraders:  *fastTraders,
		MarketMakers: *marketMakers,
		Tick:         *tick,
	})
	actors := make([]sim.Actor, len(population))
	for i, a := range population {
		actors[i] = a
	}

	runner := sim.NewRunner(eng, logger, actors, sim.Config{
		Duration:      *duration,
		Warmup:        *warmup,
		SnapshotEvery: 1000,
	})
	if liveServer != nil {
		runner.OnSnapshot = func(now int64) {
			liveServer.PublishBook(live.SnapshotOrders(now, eng.BuyOrders(), eng.SellOrders()))
		}
	}

	log.Printf("Running %dms simulation (seed %d, %d agents)", *duration, *seed, len(population))
	if err := runner.Run(); err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		log.Fatalf("Failed to flush audit log: %v", err)
	}

	if st != nil {
		if err := st.FinishRun(runID, eng.LastTradePrice(), eng.MatchCount()); err != nil {
			log.Fatalf("Failed to finish run record: %v", err)
		}
		for _, a := range population {
			inv := int64(0)
			if holder, ok := a.(interface{ Inventory() int64 }); ok {
				inv = holder.Inventory()
			}
			if err := st.SaveAgentResult(runID, a.ID(), a.Type(), inv); err != nil {
				log.Fatalf("Failed to save agent result: %v", err)
			}
		}
		if err := mirror.Err(); err != nil {
			log.Fatalf("Event mirror failed during run: %v", err)
		}
		log.Printf("Run %s persisted", runID)
	}

	log.Printf("Done: last trade %d cents, %d trade batches, book depth %d+%d",
		eng.LastTradePrice(), eng.MatchCount(), len(eng.BuyOrders()), len(eng.SellOrders()))
}
