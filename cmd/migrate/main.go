package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"camviewer/internal/model"
	"camviewer/internal/repository/sqlite"
	"camviewer/internal/service/storage"
)

// Indexes snapshot files that are on disk but missing from the images table,
// e.g. after the database was deleted or snapshots were copied from another host.
func main() {
	imagesDir := flag.String("images", "images", "Directory containing snapshots")
	dbPath := flag.String("db", "data/camviewer.db", "Database path")
	flag.Parse()

	fmt.Printf("Indexing snapshots from %s into database %s\n", *imagesDir, *dbPath)

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	imageRepo := sqlite.NewImageRepository(db)

	files, err := os.ReadDir(*imagesDir)
	if err != nil {
		log.Fatalf("Failed to read images directory: %v", err)
	}

	inserted, existing, skipped := 0, 0, 0
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".jpg" {
			continue
		}

		timestamp, camera, err := storage.ParseFilename(file.Name())
		if err != nil {
			log.Printf("Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}

		if img, err := imageRepo.GetByFilename(file.Name()); err == nil && img != nil {
			existing++
			continue
		}

		info, err := file.Info()
		if err != nil {
			log.Printf("Failed to get info for %s: %v", file.Name(), err)
			skipped++
			continue
		}

		_, err = imageRepo.Insert(&model.Image{
			Filename:  file.Name(),
			Camera:    camera,
			Timestamp: timestamp,
			FilePath:  filepath.Join(*imagesDir, file.Name()),
			FileSize:  info.Size(),
		})
		if err != nil {
			log.Printf("Failed to insert %s: %v", file.Name(), err)
			skipped++
			continue
		}
		inserted++
	}

	fmt.Printf("Indexed %d snapshots, %d already present\n", inserted, existing)
	if skipped > 0 {
		fmt.Printf("Skipped %d files (invalid name or errors)\n", skipped)
	}

	count, err := imageRepo.GetTotalCount(&model.ImageFilter{})
	if err != nil {
		log.Fatalf("Failed to count images: %v", err)
	}
	size, err := imageRepo.GetTotalSize()
	if err != nil {
		log.Fatalf("Failed to sum image sizes: %v", err)
	}
	fmt.Printf("\nDatabase statistics:\n")
	fmt.Printf("   Total images: %d\n", count)
	fmt.Printf("   Total size: %d bytes\n", size)
}
