package cmd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-avatar-pipeline/internal/cache"
	"go-avatar-pipeline/internal/helpers"
)

// cacheCmd groups subcommands operating on the local avatar cache.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the local avatar cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cached avatar entry, if any",
	RunE:  runCacheShow,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the cached avatar and its metadata",
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openCache() (*cache.AssetCache, error) {
	assetCache, err := cache.Open(globalConfig.CachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open avatar cache at %s: %w", globalConfig.CachePath, err)
	}
	return assetCache, nil
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	assetCache, err := openCache()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := assetCache.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Error closing avatar cache")
		}
	}()

	fingerprint, filename, err := assetCache.Entry()
	if errors.Is(err, cache.ErrNotFound) {
		fmt.Println("Cache is empty.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache metadata: %w", err)
	}

	size, err := assetCache.Size()
	if err != nil {
		log.WithError(err).Warn("Failed to compute cache size")
	}

	fmt.Printf("Fingerprint: %s\n", fingerprint)
	fmt.Printf("Filename:    %s\n", filename)
	fmt.Printf("Size:        %s\n", helpers.BytesToSize(size))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	assetCache, err := openCache()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := assetCache.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Error closing avatar cache")
		}
	}()

	if err := assetCache.Clear(); err != nil {
		return fmt.Errorf("failed to clear avatar cache: %w", err)
	}
	log.Info("Avatar cache cleared.")
	return nil
}
