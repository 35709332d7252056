package e2e_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/careline-ai/careline/citest/testutil"
)

var _ = Describe("Live Event Feed", func() {
	var sse *testutil.SSEClient

	AfterEach(func() {
		if sse != nil {
			sse.Close()
			sse = nil
		}
	})

	// connectStream opens the feed and waits for the server's opening frame.
	// The short settle gives the handler time to subscribe before we act.
	connectStream := func(path string) {
		sse = testServer.SSEClient()
		Expect(sse.Connect(ctx, path)).To(Succeed())

		payload, err := sse.WaitForPayloadType("stream.connected", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(payload.Type).To(Equal("stream.connected"))
		time.Sleep(100 * time.Millisecond)
	}

	It("announces the stream before any event", func() {
		connectStream("/api/events")
	})

	It("relays a session's ledger events as they happen", func() {
		created, err := client.CreateSession(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		sessionID := created.Session.ID
		defer client.CloseSession(ctx, sessionID)

		connectStream("/api/events?sessionID=" + sessionID)

		_, err = client.SendTurn(ctx, sessionID, "yes")
		Expect(err).NotTo(HaveOccurred())

		payload, err := sse.WaitForPayloadType("turn.processed", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		evt, err := payload.LedgerEvent()
		Expect(err).NotTo(HaveOccurred())
		Expect(evt.SessionID).To(Equal(sessionID))
		Expect(evt.Seq).To(BeNumerically(">", 0))

		verdict, err := sse.WaitForPayloadType("risk.assessed", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(verdict.Data).NotTo(BeEmpty())

		consented, err := sse.WaitForPayloadType("consent.granted", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		cevt, err := consented.LedgerEvent()
		Expect(err).NotTo(HaveOccurred())
		Expect(cevt.SessionID).To(Equal(sessionID))
	})

	It("filters the feed to the requested session", func() {
		watched, err := client.CreateSession(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		defer client.CloseSession(ctx, watched.Session.ID)

		other, err := client.CreateSession(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		defer client.CloseSession(ctx, other.Session.ID)

		connectStream("/api/events?sessionID=" + watched.Session.ID)

		_, err = client.SendTurn(ctx, other.Session.ID, "yes")
		Expect(err).NotTo(HaveOccurred())
		_, err = client.SendTurn(ctx, watched.Session.ID, "yes")
		Expect(err).NotTo(HaveOccurred())

		collected := sse.CollectEvents(1 * time.Second)
		Expect(collected).NotTo(BeEmpty())

		for _, raw := range collected {
			if raw.Type == "heartbeat" {
				continue
			}
			payload, perr := raw.ParsePayload()
			Expect(perr).NotTo(HaveOccurred())
			if payload.Type == "stream.connected" {
				continue
			}
			evt, lerr := payload.LedgerEvent()
			Expect(lerr).NotTo(HaveOccurred())
			Expect(evt.SessionID).To(Equal(watched.Session.ID),
				"the filtered feed must not carry other sessions")
		}
	})

	It("carries the full fan-out on the unfiltered feed", func() {
		connectStream("/api/events")

		created, err := client.CreateSession(ctx, "")
		Expect(err).NotTo(HaveOccurred())
		sessionID := created.Session.ID
		defer client.CloseSession(ctx, sessionID)

		payload, err := sse.WaitForPayloadType("session.created", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		evt, err := payload.LedgerEvent()
		Expect(err).NotTo(HaveOccurred())
		Expect(evt.SessionID).To(Equal(sessionID))
	})
})
