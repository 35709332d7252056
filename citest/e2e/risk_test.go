package e2e_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Risk Escalation", func() {
	Describe("High Severity", func() {
		It("escalates and closes in a single turn", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			sessionID := created.Session.ID

			_, err = client.SendTurn(ctx, sessionID, "yes")
			Expect(err).NotTo(HaveOccurred())

			result, err := client.SendTurn(ctx, sessionID, "I feel suicidal")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Verdict.Severity).To(Equal("HIGH"))
			Expect(result.Closed).To(BeTrue())
			Expect(result.CloseReason).To(Equal("escalation_complete"))
			Expect(result.Phase).To(Equal("CLOSE"))

			Expect(result.Plan).NotTo(BeNil())
			Expect(result.Plan.Status).To(Equal("COMPLETED"))
			Expect(result.Plan.Priority).To(Equal("high"))
			Expect(result.Plan.Directive).To(BeNil(), "directive is reserved for critical verdicts")

			Expect(result.Bundle).NotTo(BeNil())
			Expect(result.Bundle.Category).To(Equal("suicide"))
			Expect(result.Bundle.Resources).NotTo(BeEmpty())
			Expect(result.Reply).To(ContainSubstring("trained human counselor"))
		})

		It("escalates even before consent is granted", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			result, err := client.SendTurn(ctx, created.Session.ID, "I want to kill myself")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Closed).To(BeTrue())
			Expect(result.CloseReason).To(Equal("escalation_complete"))
			Expect(result.Plan).NotTo(BeNil())
		})

		It("keeps medium severity in the support loop", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			sessionID := created.Session.ID
			defer client.CloseSession(ctx, sessionID)

			_, err = client.SendTurn(ctx, sessionID, "yes")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SendTurn(ctx, sessionID, "I've been feeling very stressed about work lately")
			Expect(err).NotTo(HaveOccurred())

			result, err := client.SendTurn(ctx, sessionID, "I cut myself when it gets bad")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Verdict.Severity).To(Equal("MEDIUM"))
			Expect(result.Closed).To(BeFalse())
			Expect(result.Phase).To(Equal("SUPPORT_LOOP"))
			Expect(result.Plan).To(BeNil())
		})
	})

	Describe("Critical Severity", func() {
		It("surfaces the regional emergency directive before the hand-off", func() {
			created, err := client.CreateSession(ctx, "en-GB")
			Expect(err).NotTo(HaveOccurred())
			sessionID := created.Session.ID

			_, err = client.SendTurn(ctx, sessionID, "yes")
			Expect(err).NotTo(HaveOccurred())

			result, err := client.SendTurn(ctx, sessionID, "I have a plan to die tonight")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Verdict.Severity).To(Equal("CRITICAL"))
			Expect(result.Closed).To(BeTrue())
			Expect(result.CloseReason).To(Equal("escalation_complete"))

			Expect(result.Plan).NotTo(BeNil())
			Expect(result.Plan.Priority).To(Equal("urgent"))
			Expect(result.Plan.Directive).NotTo(BeNil())
			Expect(result.Plan.Directive.EmergencyNumber).To(Equal("999"))

			// The directive leads the reply
			Expect(result.Reply).To(ContainSubstring("concerned about your safety"))
			Expect(result.Reply).To(ContainSubstring("999"))
		})

		It("records the full escalation trail in the ledger", func() {
			created, err := client.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			sessionID := created.Session.ID

			_, err = client.SendTurn(ctx, sessionID, "I have a plan to die tonight")
			Expect(err).NotTo(HaveOccurred())

			events, err := client.GetEvents(ctx, sessionID, 0)
			Expect(err).NotTo(HaveOccurred())

			kinds := map[string]int{}
			for _, evt := range events {
				kinds[evt.Kind]++
			}
			Expect(kinds["escalation.directive"]).To(Equal(1))
			Expect(kinds["escalation.attempt"]).To(BeNumerically(">=", 1))
			Expect(kinds["escalation.resolved"]).To(Equal(1))
			Expect(kinds["resource.delivered"]).To(Equal(1))
			Expect(kinds["session.closed"]).To(Equal(1))

			for _, evt := range events {
				if evt.Kind != "session.closed" {
					continue
				}
				var payload struct {
					Reason string `json:"reason"`
				}
				Expect(json.Unmarshal(evt.Payload, &payload)).To(Succeed())
				Expect(payload.Reason).To(Equal("escalation_complete"))
			}
		})
	})
})
