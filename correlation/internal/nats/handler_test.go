package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconhawk/reconhawk-stack/common/messaging"
	"github.com/reconhawk/reconhawk-stack/common/messaging/messagingtest"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/service"
)

type stubRunner struct {
	got     []service.RunRequest
	trigger string
	summary *service.RunSummary
	err     error
}

func (s *stubRunner) Run(_ context.Context, req service.RunRequest, trigger string) (*service.RunSummary, error) {
	s.got = append(s.got, req)
	s.trigger = trigger
	return s.summary, s.err
}

func startHandler(t *testing.T, runner Runner) (*Handler, *messagingtest.Client) {
	t.Helper()
	client := messagingtest.New()
	h := NewHandler(client, runner)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })
	return h, client
}

func sendJob(t *testing.T, client *messagingtest.Client, payload []byte, reply string) error {
	t.Helper()
	return client.Deliver(context.Background(), &messaging.Message{
		Subject: messaging.SubjectCorrelationJobsRun,
		Data:    payload,
		Reply:   reply,
	})
}

func decodeResponse(t *testing.T, msg messaging.Message) RunJobResponse {
	t.Helper()
	var resp RunJobResponse
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	return resp
}

func TestHandleRunJob_Success(t *testing.T) {
	runner := &stubRunner{summary: &service.RunSummary{RunID: "run-1", RulesEvaluated: 3, CorrelationsCreated: 2}}
	_, client := startHandler(t, runner)

	payload, _ := json.Marshal(RunJobRequest{JobID: "job-1", ScanIDs: []string{"S1", "S2"}, RuleIDs: []string{"r1"}})
	require.NoError(t, sendJob(t, client, payload, "_INBOX.reply"))

	require.Len(t, runner.got, 1)
	assert.Equal(t, service.RunRequest{ScanIDs: []string{"S1", "S2"}, RuleIDs: []string{"r1"}}, runner.got[0])
	assert.Equal(t, service.TriggerNATS, runner.trigger)

	replies := client.Published("_INBOX.reply")
	require.Len(t, replies, 1)
	resp := decodeResponse(t, replies[0])
	assert.True(t, resp.Success)
	assert.Equal(t, "job-1", resp.JobID)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, 2, resp.Summary.CorrelationsCreated)

	results := client.Published(messaging.CorrelationRunResultSubject("job-1"))
	require.Len(t, results, 1)
	assert.True(t, decodeResponse(t, results[0]).Success)
}

func TestHandleRunJob_NoReplySubject(t *testing.T) {
	runner := &stubRunner{summary: &service.RunSummary{}}
	_, client := startHandler(t, runner)

	payload, _ := json.Marshal(RunJobRequest{ScanIDs: []string{"S1"}})
	require.NoError(t, sendJob(t, client, payload, ""))

	require.Len(t, runner.got, 1)
	assert.Empty(t, client.Published(""))
}

func TestHandleRunJob_RunError(t *testing.T) {
	runner := &stubRunner{err: errors.New("invalid request: no scan ids")}
	_, client := startHandler(t, runner)

	payload, _ := json.Marshal(RunJobRequest{JobID: "job-2"})
	require.NoError(t, sendJob(t, client, payload, "reply.job-2"))

	replies := client.Published("reply.job-2")
	require.Len(t, replies, 1)
	resp := decodeResponse(t, replies[0])
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no scan ids")
	assert.Len(t, client.Published(messaging.CorrelationRunResultSubject("job-2")), 1)
}

func TestHandleRunJob_InvalidPayload(t *testing.T) {
	runner := &stubRunner{}
	_, client := startHandler(t, runner)

	require.NoError(t, sendJob(t, client, []byte("{not json"), "reply.bad"))

	assert.Empty(t, runner.got)
	replies := client.Published("reply.bad")
	require.Len(t, replies, 1)
	resp := decodeResponse(t, replies[0])
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "invalid job payload")
}

func TestHandleRunJob_ReplyFailure(t *testing.T) {
	runner := &stubRunner{summary: &service.RunSummary{}}
	_, client := startHandler(t, runner)
	client.FailPublish(errors.New("broker down"))

	payload, _ := json.Marshal(RunJobRequest{JobID: "job-3", ScanIDs: []string{"S1"}})
	err := sendJob(t, client, payload, "reply.job-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reply")
}

func TestStartStop(t *testing.T) {
	client := messagingtest.New()
	h := NewHandler(client, &stubRunner{})
	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, 1, client.Subscriptions())

	require.NoError(t, h.Stop())
	assert.Zero(t, client.Subscriptions())
}
