// Command import-posts loads a directory of post bodies into the post store
// so the reference index sees content that predates the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/debemdeboas/forum-attachments/internal/app"
	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/debemdeboas/forum-attachments/internal/logger"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/debemdeboas/forum-attachments/internal/repository"
)

var extensions = []string{".md", ".html", ".txt"}

func main() {
	_ = godotenv.Load()

	path := flag.String("path", "", "Directory containing post bodies")
	ownerID := flag.String("owner-id", "", "Owner user ID for the posts")
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	flag.Parse()

	if *path == "" || *ownerID == "" {
		fmt.Fprintln(os.Stderr, "Both --path and --owner-id flags are required")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	l := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	app.SetLoggers(l)

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	files, err := os.ReadDir(*path)
	if err != nil {
		l.Error().Err(err).Str("path", *path).Msg("Error reading directory")
		return
	}

	imported := 0
	for _, file := range files {
		if file.IsDir() || !hasExtension(file.Name()) {
			continue
		}
		post, err := importFile(ctx, a.Posts, *path, file, model.UserID(*ownerID))
		if err != nil {
			l.Error().Err(err).Str("file", file.Name()).Msg("Error importing file")
			continue
		}
		imported++
		l.Info().
			Str("file", file.Name()).
			Str("post_id", string(post.ID)).
			Int("managed_keys", len(a.Codec.ManagedKeys(post.Content))).
			Msg("Imported post")
	}
	l.Info().Int("imported", imported).Msg("Import finished")
}

func hasExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// importFile saves one file as a thread titled after the file name, dated by
// its modification time.
func importFile(ctx context.Context, repo repository.PostRepository, dir string, file os.DirEntry, owner model.UserID) (*model.Post, error) {
	content, err := os.ReadFile(filepath.Join(dir, file.Name()))
	if err != nil {
		return nil, err
	}
	info, err := file.Info()
	if err != nil {
		return nil, err
	}

	post := repo.NewPost()
	post.Title = strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
	post.Content = string(content)
	post.Owner = owner
	post.CreatedDate = info.ModTime().UTC()
	post.ModifiedDate = post.CreatedDate

	return post, repo.SavePost(ctx, post)
}
