// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package poll_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/palaver/internal/poll"
	"github.com/holomush/palaver/pkg/errutil"
	"github.com/holomush/palaver/pkg/plugin"
)

var _ = Describe("Poll lifecycle", func() {
	var (
		ctx   context.Context
		pub   *recordingPublisher
		coord *poll.Coordinator
		p     *poll.Poll
	)

	BeforeEach(func() {
		ctx = context.Background()
		pub = &recordingPublisher{}
		coord = poll.NewCoordinator(poll.CoordinatorConfig{
			Repository: poll.NewMemoryRepository(),
			Publisher:  pub,
		})

		var err error
		p, err = coord.CreatePoll(ctx, "general", "alice", "Retro Day", []string{"Thu", "Fri"})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("an open poll", func() {
		It("starts with zero counts", func() {
			results, err := coord.GetResults(ctx, "Retro Day")
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(Equal([]poll.Result{{Option: "Thu"}, {Option: "Fri"}}))
		})

		It("accepts one vote per user", func() {
			_, err := coord.Vote(ctx, p.ID, "bob", "Thu")
			Expect(err).NotTo(HaveOccurred())

			_, err = coord.Vote(ctx, p.ID, "bob", "Fri")
			Expect(errutil.HasCode(err, poll.CodeAlreadyVoted)).To(BeTrue())

			results, err := coord.GetResults(ctx, "Retro Day")
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(Equal([]poll.Result{{Option: "Thu", Count: 1}, {Option: "Fri", Count: 0}}))
		})
	})

	Describe("a closed poll", func() {
		BeforeEach(func() {
			_, err := coord.Vote(ctx, p.ID, "bob", "Fri")
			Expect(err).NotTo(HaveOccurred())
			_, err = coord.ClosePoll(ctx, p.ID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects votes", func() {
			_, err := coord.Vote(ctx, p.ID, "carol", "Thu")
			Expect(errutil.HasCode(err, poll.CodePollClosed)).To(BeTrue())
		})

		It("keeps its final tally readable", func() {
			got, err := coord.GetPoll(ctx, p.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.IsClosed).To(BeTrue())
			Expect(got.Results()).To(Equal([]poll.Result{{Option: "Thu", Count: 0}, {Option: "Fri", Count: 1}}))
		})

		It("can still be deleted", func() {
			Expect(coord.DeletePoll(ctx, p.ID)).To(Succeed())
			_, err := coord.LookupByTitle(ctx, "Retro Day")
			Expect(errutil.HasCode(err, poll.CodePollNotFound)).To(BeTrue())
		})

		It("published events in commit order", func() {
			Expect(pub.types()).To(Equal([]plugin.PollEventType{
				plugin.PollCreated, plugin.PollUpdated, plugin.PollClosed,
			}))
		})
	})
})
