package cli

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/BioHazard786/Warpcall/internal/roomid"
	"github.com/BioHazard786/Warpcall/internal/session"
)

var (
	errEmptyRoom        = errors.New("room ID cannot be empty")
	errRelayWithoutTURN = errors.New("cannot force relay mode without a TURN server")
)

// parseRoomInput accepts a bare room id or a share link.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errEmptyRoom
	}

	id := input
	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		var err error
		id, err = extractRoomIDFromURL(input)
		if err != nil {
			return "", err
		}
	}

	if !roomid.Valid(id) {
		return "", fmt.Errorf("invalid room ID %q", id)
	}
	return id, nil
}

// extractRoomIDFromURL finds the segment after "/r/" in a share link.
func extractRoomIDFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", session.NewError("parse URL", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("could not extract room ID from URL: %s", urlStr)
}
