package e2e_test

import (
	"encoding/json"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/careline-ai/careline/citest/testutil"
	"github.com/careline-ai/careline/pkg/types"
)

var _ = Describe("Session Workflows", func() {
	Describe("Basic Session Lifecycle", func() {
		It("opens a session awaiting consent", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(created.Session.ID).NotTo(BeEmpty())
			Expect(created.Session.Phase).To(Equal("INIT"))
			Expect(created.Session.Consent).To(Equal("PENDING"))
			Expect(created.Session.Locale).To(Equal("en-US"))
			Expect(created.Greeting).To(ContainSubstring("Do you consent"))

			client.CloseSession(ctx, created.Session.ID)
		})

		It("retrieves a session by ID", func() {
			created, err := client.CreateSession(ctx, "en-GB")
			Expect(err).NotTo(HaveOccurred())
			defer client.CloseSession(ctx, created.Session.ID)

			retrieved, err := client.GetSession(ctx, created.Session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(retrieved.ID).To(Equal(created.Session.ID))
			Expect(retrieved.Locale).To(Equal("en-GB"))
		})

		It("lists open sessions", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			defer client.CloseSession(ctx, created.Session.ID)

			sessions, err := client.ListSessions(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).NotTo(BeEmpty())

			found := false
			for _, s := range sessions {
				if s.ID == created.Session.ID {
					found = true
					break
				}
			}
			Expect(found).To(BeTrue(), "Created session should be in list")
		})

		It("closes a session on operator request and keeps the record", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			closed, err := client.CloseSession(ctx, created.Session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(closed.Phase).To(Equal("CLOSE"))
			Expect(closed.CloseReason).To(Equal("operator_close"))

			// The archived record stays readable after close
			archived, err := client.GetSession(ctx, created.Session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(archived.Phase).To(Equal("CLOSE"))
			Expect(archived.CloseReason).To(Equal("operator_close"))
		})
	})

	Describe("Consent Through Conversation", func() {
		var sessionID string

		BeforeEach(func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			sessionID = created.Session.ID
		})

		AfterEach(func() {
			client.CloseSession(ctx, sessionID)
		})

		It("moves to triage on an affirmative reply", func() {
			result, err := client.SendTurn(ctx, sessionID, "yes")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Phase).To(Equal("TRIAGE"))
			Expect(result.Reply).To(ContainSubstring("What brings you here"))
			Expect(result.Verdict.Severity).To(Equal("NONE"))

			session, err := client.GetSession(ctx, sessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Consent).To(Equal("GRANTED"))
		})

		It("repeats the consent prompt when the answer is unclear", func() {
			result, err := client.SendTurn(ctx, sessionID, "what is this exactly")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Phase).To(Equal("INIT"))
			Expect(result.Reply).To(ContainSubstring("Do you consent"))
		})

		It("keeps the session open after a refusal", func() {
			result, err := client.SendTurn(ctx, sessionID, "no")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Phase).To(Equal("INIT"))
			Expect(result.Closed).To(BeFalse())
			Expect(result.Reply).To(ContainSubstring("respect your decision"))

			session, err := client.GetSession(ctx, sessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Consent).To(Equal("DENIED"))
		})

		It("closes when granted consent is withdrawn mid-conversation", func() {
			_, err := client.SendTurn(ctx, sessionID, "yes")
			Expect(err).NotTo(HaveOccurred())

			result, err := client.SendTurn(ctx, sessionID, "actually I withdraw my consent")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Closed).To(BeTrue())
			Expect(result.CloseReason).To(Equal("consent_revoked"))
			Expect(result.Phase).To(Equal("CLOSE"))
		})
	})

	Describe("Consent API", func() {
		It("grants consent out of band", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			defer client.CloseSession(ctx, created.Session.ID)

			result, err := client.Consent(ctx, created.Session.ID, "grant")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Phase).To(Equal("CONSENTED"))
			Expect(result.Reply).To(ContainSubstring("What brings you here"))

			// The first message after an API grant is the presenting concern
			turn, err := client.SendTurn(ctx, created.Session.ID, "I've been feeling very stressed about work lately")
			Expect(err).NotTo(HaveOccurred())
			Expect(turn.Phase).To(Equal("SUPPORT_LOOP"))
		})

		It("closes with consent_denied when revoked before any grant", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			result, err := client.Consent(ctx, created.Session.ID, "revoke")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Closed).To(BeTrue())
			Expect(result.CloseReason).To(Equal("consent_denied"))
		})

		It("closes with consent_revoked when revoked after a grant", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			_, err = client.Consent(ctx, created.Session.ID, "grant")
			Expect(err).NotTo(HaveOccurred())

			result, err := client.Consent(ctx, created.Session.ID, "revoke")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Closed).To(BeTrue())
			Expect(result.CloseReason).To(Equal("consent_revoked"))
		})

		It("rejects unknown consent actions", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			defer client.CloseSession(ctx, created.Session.ID)

			resp, err := client.Post(ctx, "/api/sessions/"+created.Session.ID+"/consent",
				map[string]string{"action": "maybe"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(resp.ErrorCode()).To(Equal("INVALID_REQUEST"))
		})
	})

	Describe("Support Conversation", func() {
		var sessionID string

		BeforeEach(func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			sessionID = created.Session.ID

			_, err = client.SendTurn(ctx, sessionID, "yes")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			client.CloseSession(ctx, sessionID)
		})

		It("summarizes the concern and opens the support loop", func() {
			result, err := client.SendTurn(ctx, sessionID, "I've been feeling very stressed about work lately")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Phase).To(Equal("SUPPORT_LOOP"))
			Expect(result.Reply).NotTo(BeEmpty())

			// Without a model the sanitized concern itself is carried forward
			session, err := client.GetSession(ctx, sessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.TriageSummary).To(ContainSubstring("stressed about work"))
		})

		It("delivers hotline resources on request", func() {
			_, err := client.SendTurn(ctx, sessionID, "I've been feeling very stressed about work lately")
			Expect(err).NotTo(HaveOccurred())

			result, err := client.SendTurn(ctx, sessionID, "Is there a phone number I can call?")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Phase).To(Equal("SUPPORT_LOOP"))
			Expect(result.Bundle).NotTo(BeNil())
			Expect(result.Bundle.Category).To(Equal("crisis"))
			Expect(result.Bundle.Resources).NotTo(BeEmpty())
			Expect(result.Reply).To(ContainSubstring("Here are some resources"))
		})

		It("ends the session on an explicit goodbye", func() {
			result, err := client.SendTurn(ctx, sessionID, "goodbye")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Closed).To(BeTrue())
			Expect(result.CloseReason).To(Equal("user_exit"))
			Expect(result.Reply).To(ContainSubstring("Take care"))
		})
	})

	Describe("Error Envelope", func() {
		It("returns 404 for an unknown session", func() {
			resp, err := client.Get(ctx, "/api/sessions/no-such-session")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(resp.ErrorCode()).To(Equal("NOT_FOUND"))
		})

		It("returns 409 for a turn on a closed session", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.CloseSession(ctx, created.Session.ID)
			Expect(err).NotTo(HaveOccurred())

			resp, err := client.Post(ctx, "/api/sessions/"+created.Session.ID+"/turns",
				map[string]string{"text": "hello"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(resp.ErrorCode()).To(Equal("SESSION_CLOSED"))
		})

		It("returns 400 for an empty turn", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			defer client.CloseSession(ctx, created.Session.ID)

			resp, err := client.Post(ctx, "/api/sessions/"+created.Session.ID+"/turns",
				map[string]string{"text": "   "})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(resp.ErrorCode()).To(Equal("INVALID_REQUEST"))
		})
	})

	Describe("Event Replay", func() {
		It("replays the full ledger with gapless sequence numbers", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			sessionID := created.Session.ID

			_, err = client.SendTurn(ctx, sessionID, "yes")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SendTurn(ctx, sessionID, "I've been feeling very stressed about work lately")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SendTurn(ctx, sessionID, "goodbye")
			Expect(err).NotTo(HaveOccurred())

			events, err := client.GetEvents(ctx, sessionID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).NotTo(BeEmpty())
			Expect(events[0].Kind).To(Equal("session.created"))
			Expect(events[0].Seq).To(Equal(uint64(1)))

			for i, evt := range events {
				Expect(evt.Seq).To(Equal(uint64(i+1)), "sequence numbers must be gapless")
				Expect(evt.SessionID).To(Equal(sessionID))
			}

			kinds := map[string]bool{}
			for _, evt := range events {
				kinds[evt.Kind] = true
			}
			Expect(kinds).To(HaveKey("turn.processed"))
			Expect(kinds).To(HaveKey("risk.assessed"))
			Expect(kinds).To(HaveKey("consent.granted"))
			Expect(kinds).To(HaveKey("phase.changed"))
			Expect(kinds).To(HaveKey("session.closed"))
			Expect(kinds).To(HaveKey("session.archived"))
		})

		It("replays from a sequence number inclusively", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			sessionID := created.Session.ID
			defer client.CloseSession(ctx, sessionID)

			_, err = client.SendTurn(ctx, sessionID, "yes")
			Expect(err).NotTo(HaveOccurred())

			full, err := client.GetEvents(ctx, sessionID, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(len(full)).To(BeNumerically(">=", 3))

			tail, err := client.GetEvents(ctx, sessionID, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(tail).NotTo(BeEmpty())
			Expect(tail[0].Seq).To(Equal(uint64(3)))
			Expect(len(tail)).To(Equal(len(full) - 2))
		})

		It("stores sanitized text only", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			sessionID := created.Session.ID
			defer client.CloseSession(ctx, sessionID)

			_, err = client.SendTurn(ctx, sessionID, "yes")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SendTurn(ctx, sessionID, "You can reach me at 555-123-4567 if that helps")
			Expect(err).NotTo(HaveOccurred())

			events, err := client.GetEvents(ctx, sessionID, 0)
			Expect(err).NotTo(HaveOccurred())

			sawTurn := false
			for _, evt := range events {
				if evt.Kind != "turn.processed" {
					continue
				}
				var payload struct {
					Sanitized string `json:"sanitized"`
				}
				Expect(json.Unmarshal(evt.Payload, &payload)).To(Succeed())
				Expect(payload.Sanitized).NotTo(ContainSubstring("555-123-4567"))
				if payload.Sanitized != "yes" {
					Expect(payload.Sanitized).To(ContainSubstring("[PHONE:"))
					sawTurn = true
				}
			}
			Expect(sawTurn).To(BeTrue(), "the phone-bearing turn should be in the ledger")
		})
	})

	Describe("Lifecycle Limits", func() {
		It("closes the session at the message cap", func() {
			limited, err := testutil.StartTestServer(testutil.WithConfig(func(c *types.Config) {
				c.Session.MaxMessages = 3
			}))
			Expect(err).NotTo(HaveOccurred())
			defer limited.Stop()
			lc := limited.Client()

			created, err := lc.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			sessionID := created.Session.ID

			_, err = lc.SendTurn(ctx, sessionID, "yes")
			Expect(err).NotTo(HaveOccurred())
			_, err = lc.SendTurn(ctx, sessionID, "I've been feeling very stressed about work lately")
			Expect(err).NotTo(HaveOccurred())

			// The capping turn is still fully processed
			result, err := lc.SendTurn(ctx, sessionID, "it has been hard to sleep")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Closed).To(BeTrue())
			Expect(result.CloseReason).To(Equal("message_cap"))
			Expect(result.Reply).To(ContainSubstring("reached the end of this session"))
		})

		It("sweeps sessions that never consented", func() {
			swept, err := testutil.StartTestServer(testutil.WithConfig(func(c *types.Config) {
				c.Session.ConsentTimeout = types.Duration(300 * time.Millisecond)
				c.Session.SweepInterval = types.Duration(100 * time.Millisecond)
			}))
			Expect(err).NotTo(HaveOccurred())
			defer swept.Stop()
			sc := swept.Client()

			created, err := sc.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() string {
				session, gerr := sc.GetSession(ctx, created.Session.ID)
				if gerr != nil {
					return ""
				}
				return session.CloseReason
			}, 5*time.Second, 100*time.Millisecond).Should(Equal("consent_timeout"))
		})
	})
})
