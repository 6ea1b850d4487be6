package engine

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// MediaKinds lists the m-line media types of an SDP blob in order, with
// the direction attribute when one is present ("video:recvonly").
func MediaKinds(raw string) ([]string, error) {
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}

	kinds := make([]string, 0, len(desc.MediaDescriptions))
	for _, md := range desc.MediaDescriptions {
		kind := md.MediaName.Media
		for _, dir := range []string{"sendrecv", "sendonly", "recvonly", "inactive"} {
			if _, ok := md.Attribute(dir); ok {
				kind += ":" + dir
				break
			}
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
