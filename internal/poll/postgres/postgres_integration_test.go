// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/palaver/internal/poll"
	"github.com/holomush/palaver/internal/poll/postgres"
	"github.com/holomush/palaver/internal/store"
	"github.com/holomush/palaver/pkg/errutil"
)

func TestPollPostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Poll PostgreSQL Integration Suite")
}

var (
	pool      *pgxpool.Pool
	container *tcpostgres.PostgresContainer
)

var _ = BeforeSuite(func() {
	ctx := context.Background()

	var err error
	container, err = tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("palaver_test"),
		tcpostgres.WithUsername("palaver"),
		tcpostgres.WithPassword("palaver"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	migrator, err := store.NewMigrator(connStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	_ = migrator.Close()

	pool, err = store.OpenPool(ctx, connStr, store.PoolOptions{MaxConns: 16})
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if pool != nil {
		pool.Close()
	}
	if container != nil {
		_ = container.Terminate(context.Background())
	}
})

var _ = Describe("Repository", func() {
	var (
		ctx   context.Context
		coord *poll.Coordinator
		repo  *postgres.Repository
	)

	BeforeEach(func() {
		ctx = context.Background()
		_, _ = pool.Exec(ctx, "DELETE FROM polls")
		repo = postgres.NewRepository(pool)
		coord = poll.NewCoordinator(poll.CoordinatorConfig{Repository: repo})
	})

	It("round-trips a poll with ordered options", func() {
		p, err := coord.CreatePoll(ctx, "general", "alice", "Weekly Sync", []string{"Mon", "Tue"})
		Expect(err).NotTo(HaveOccurred())

		_, err = coord.Vote(ctx, p.ID, "bob", "Mon")
		Expect(err).NotTo(HaveOccurred())

		results, err := coord.GetResults(ctx, "Weekly Sync")
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(Equal([]poll.Result{{Option: "Mon", Count: 1}, {Option: "Tue", Count: 0}}))
	})

	It("rejects a second live poll with the same title", func() {
		_, err := coord.CreatePoll(ctx, "general", "alice", "Lunch", []string{"A", "B"})
		Expect(err).NotTo(HaveOccurred())
		_, err = coord.CreatePoll(ctx, "random", "bob", "Lunch", []string{"C", "D"})
		Expect(errutil.HasCode(err, poll.CodeTitleTaken)).To(BeTrue())
	})

	It("stores one vote when a user races against themselves", func() {
		p, err := coord.CreatePoll(ctx, "general", "alice", "Race", []string{"A", "B"})
		Expect(err).NotTo(HaveOccurred())

		// Separate coordinators share only the database, like separate
		// server processes would.
		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				c := poll.NewCoordinator(poll.CoordinatorConfig{Repository: postgres.NewRepository(pool)})
				_, voteErr := c.Vote(ctx, p.ID, "bob", []string{"A", "B"}[i%2])
				if voteErr != nil {
					Expect(errutil.HasCode(voteErr, poll.CodeAlreadyVoted)).To(BeTrue(), fmt.Sprint(voteErr))
				}
			}()
		}
		wg.Wait()

		votes, err := repo.Votes(ctx, p.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(votes).To(HaveLen(1))

		got, err := repo.Get(ctx, p.ID)
		Expect(err).NotTo(HaveOccurred())
		total := 0
		for _, r := range got.Results() {
			total += r.Count
		}
		Expect(total).To(Equal(1))
	})

	It("cascades deletes to options and votes", func() {
		p, err := coord.CreatePoll(ctx, "general", "alice", "Gone", []string{"A", "B"})
		Expect(err).NotTo(HaveOccurred())
		_, err = coord.Vote(ctx, p.ID, "bob", "A")
		Expect(err).NotTo(HaveOccurred())

		Expect(coord.DeletePoll(ctx, p.ID)).To(Succeed())

		var remaining int
		Expect(pool.QueryRow(ctx, "SELECT count(*) FROM poll_votes").Scan(&remaining)).To(Succeed())
		Expect(remaining).To(Equal(0))
		Expect(pool.QueryRow(ctx, "SELECT count(*) FROM poll_options").Scan(&remaining)).To(Succeed())
		Expect(remaining).To(Equal(0))

		_, err = coord.LookupByTitle(ctx, "Gone")
		Expect(errutil.HasCode(err, poll.CodePollNotFound)).To(BeTrue())
	})

	It("closes idempotently", func() {
		p, err := coord.CreatePoll(ctx, "general", "alice", "Shut", []string{"A", "B"})
		Expect(err).NotTo(HaveOccurred())

		_, changed, err := repo.Close(ctx, p.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeTrue())

		_, changed, err = repo.Close(ctx, p.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeFalse())

		_, err = coord.Vote(ctx, p.ID, "bob", "A")
		Expect(errutil.HasCode(err, poll.CodePollClosed)).To(BeTrue())
	})
})
