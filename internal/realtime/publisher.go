// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package realtime

import (
	"context"

	"github.com/holomush/palaver/internal/poll"
	"github.com/holomush/palaver/internal/realtime/wire"
	"github.com/holomush/palaver/pkg/plugin"
)

// PollPublisher returns a poll.Publisher that broadcasts committed poll
// events to the polls group.
func PollPublisher(h *Hub) poll.Publisher {
	return poll.PublisherFunc(func(_ context.Context, ev poll.Event) {
		h.Publish(GroupPolls, EventFrame(ev))
	})
}

// EventFrame converts a coordinator event into its wire frame.
func EventFrame(ev poll.Event) wire.Event {
	frame := wire.Event{Event: string(ev.Type), Title: ev.Poll.Title}
	switch ev.Type {
	case plugin.PollCreated:
		frame.Options = ev.Poll.OptionTexts()
	case plugin.PollUpdated:
		frame.Options = ev.Poll.OptionTexts()
		frame.Results = make(map[string]int, len(ev.Poll.Options))
		for _, r := range ev.Poll.Results() {
			frame.Results[r.Option] = r.Count
		}
	}
	return frame
}
