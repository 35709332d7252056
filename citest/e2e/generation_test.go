package e2e_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/careline-ai/careline/citest/testutil"
)

var _ = Describe("Model-Backed Sessions", func() {
	var (
		modelServer *testutil.TestServer
		modelClient *testutil.TestClient
		modelCtx    context.Context
	)

	BeforeEach(func() {
		var err error
		modelServer, err = testutil.StartTestServer(testutil.WithMockLLM())
		Expect(err).NotTo(HaveOccurred())
		modelClient = modelServer.Client()
		modelCtx = context.Background()
	})

	AfterEach(func() {
		if modelServer != nil {
			modelServer.Stop()
			modelServer = nil
		}
	})

	// consentedSession opens a session and grants consent in conversation,
	// leaving it in TRIAGE.
	consentedSession := func() string {
		created, err := modelClient.CreateSession(modelCtx, "")
		Expect(err).NotTo(HaveOccurred())
		_, err = modelClient.SendTurn(modelCtx, created.Session.ID, "yes")
		Expect(err).NotTo(HaveOccurred())
		return created.Session.ID
	}

	It("returns the model's reply once triage is done", func() {
		scripted := "It makes sense that the deadline pressure feels heavy. What part weighs on you most?"
		modelServer.MockLLM.ScriptReply(scripted)

		id := consentedSession()
		result, err := modelClient.SendTurn(modelCtx, id, "I've been feeling very stressed about work lately")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Phase).To(Equal("SUPPORT_LOOP"))
		Expect(result.Verdict.Degraded).To(BeFalse())
		Expect(result.Reply).To(Equal(scripted))
	})

	It("captures the model's triage summary on the session", func() {
		scripted := "Work stress with deadline pressure. No acute safety signals."
		modelServer.MockLLM.ScriptSummary(scripted)

		id := consentedSession()
		_, err := modelClient.SendTurn(modelCtx, id, "Work has been wearing me down for months")
		Expect(err).NotTo(HaveOccurred())

		session, err := modelClient.GetSession(modelCtx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(session.TriageSummary).To(Equal(scripted))
	})

	It("escalates on a classifier verdict the keyword pass misses", func() {
		modelServer.MockLLM.ScriptVerdict("hopeless", "HIGH 0.9")

		id := consentedSession()
		result, err := modelClient.SendTurn(modelCtx, id, "I feel completely hopeless about everything")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Verdict.Severity).To(Equal("HIGH"))
		Expect(result.Verdict.Confidence).To(BeNumerically("~", 0.9, 0.01))
		Expect(result.Verdict.Degraded).To(BeFalse())
		Expect(result.Closed).To(BeTrue())
		Expect(result.CloseReason).To(Equal("escalation_complete"))
		Expect(result.Plan).NotTo(BeNil())
		Expect(result.Plan.Status).To(Equal("COMPLETED"))
		Expect(result.Reply).To(ContainSubstring("trained human counselor"))
	})

	It("sends classifier and reply traffic to the configured provider", func() {
		id := consentedSession()
		_, err := modelClient.SendTurn(modelCtx, id, "I just need someone to talk to")
		Expect(err).NotTo(HaveOccurred())

		requests := modelServer.MockLLM.GetRequests()
		Expect(len(requests)).To(BeNumerically(">=", 2))
		for _, req := range requests {
			Expect(req.Method).To(Equal("POST"))
			Expect(req.Path).To(ContainSubstring("/chat/completions"))
		}
	})
})
