package main

import (
	"flag"
	"log"

	"github.com/google/uuid"

	"github.com/danmuck/syncgraph/internal/config"
)

func main() {
	kind := flag.String("kind", "cluster", "config kind: cluster|rank")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing cluster config file")
	input := flag.String("input", "cluster.toml", "config path for validation")
	runID := flag.String("run-id", "", "run id for the template (random when empty)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if *kind != "cluster" {
			log.Fatalf("only cluster configs can be validated, got %s", *kind)
		}
		cfg, err := config.LoadClusterConfig(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated cluster config at %s run=%s size=%d transport=%s mode=%s",
			*input, cfg.RunID, cfg.Size, cfg.Transport, cfg.Mode)
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "cluster":
			target = "cluster.toml"
		case "rank":
			target = "rank.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	id := *runID
	if id == "" {
		id = uuid.NewString()
	}
	if err := config.WriteTemplate(target, *kind, id, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s run=%s", *kind, target, id)
}
