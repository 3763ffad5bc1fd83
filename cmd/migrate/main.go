package main

import (
	"context"
	"flag"
	"log"
	"time"

	"coin-bank/config"
	"coin-bank/internal/store"
)

// Sample catalog used by -seed for local development.
var seedItems = []struct {
	title, description, imageRef string
	cost                         int64
}{
	{"Sticker Pack", "A pack of community stickers", "https://cdn.example.com/items/stickers.png", 10},
	{"Custom Role Color", "Pick your own name color for a week", "https://cdn.example.com/items/color.png", 50},
	{"Shoutout", "A shoutout in the announcements channel", "https://cdn.example.com/items/shoutout.png", 100},
}

func main() {
	seed := flag.Bool("seed", false, "insert sample catalog items after migrating")
	flag.Parse()

	cfg := config.Load()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Schema applied")

	if !*seed {
		return
	}

	for _, item := range seedItems {
		created, err := db.RegisterItem(ctx, item.title, item.description, item.imageRef, item.cost)
		if err != nil {
			log.Fatalf("Failed to seed item %q: %v", item.title, err)
		}
		if created {
			log.Printf("Seeded item: %s (cost %d)", item.title, item.cost)
		} else {
			log.Printf("Item already present: %s", item.title)
		}
	}
}
