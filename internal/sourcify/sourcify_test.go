package sourcify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"abiscope/internal/chains"
	"abiscope/internal/config"
	apperrors "abiscope/internal/errors"
	"abiscope/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const address = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(&config.SourcifyConfig{ServerURL: server.URL + "/", Timeout: "2s"}, logrus.New())
}

func TestClient_Files(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/any/8453/"+address, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"status":"full","files":[
			{"name":"Token.sol","path":"sources/Token.sol","content":"contract Token {}"},
			{"name":"metadata.json","path":"metadata.json","content":"{}"}]}`))
	})

	files, err := client.Files(context.Background(), 8453, address)
	require.NoError(t, err)
	assert.Equal(t, "full", files.Status)

	meta, ok := files.Find("metadata.json")
	require.True(t, ok)
	assert.Equal(t, "{}", meta.Content)

	_, ok = files.Find("missing.json")
	assert.False(t, ok)
}

func TestClient_FilesNotFound(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.Files(context.Background(), 1, address)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrContractNotFound)
	assert.Equal(t, 1, calls)
}

func TestClient_FilesMalformed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := client.Files(context.Background(), 1, address)
	assert.ErrorIs(t, err, apperrors.ErrMetadataUnreadable)
}

func TestClient_CheckAllByAddresses(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/check-all-by-addresses", r.URL.Path)
		assert.Equal(t, address, r.URL.Query().Get("addresses"))
		assert.Equal(t, "8453,10,1", r.URL.Query().Get("chainIds"))
		w.Write([]byte(`[{"address":"` + address + `","chainIds":[{"chainId":"10","status":"perfect"}]}]`))
	})

	verifications, err := client.CheckAllByAddresses(context.Background(), []string{address}, []uint64{8453, 10, 1})
	require.NoError(t, err)
	require.Len(t, verifications, 1)
	assert.Equal(t, "10", verifications[0].ChainIDs[0].ChainID)
	assert.Equal(t, "perfect", verifications[0].ChainIDs[0].Status)
}

func TestClient_CheckAllByAddressesUpstreamFailure(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CheckAllByAddresses(context.Background(), []string{address}, []uint64{1})
	assert.ErrorIs(t, err, apperrors.ErrUpstreamFailed)
	assert.Equal(t, 1, calls)
}

func TestClient_CanceledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.CheckAllByAddresses(ctx, []string{address}, []uint64{1})
	assert.True(t, apperrors.IsAborted(err))
}

type stubVerifier struct {
	verifications []models.Verification
	err           error
}

func (s *stubVerifier) CheckAllByAddresses(ctx context.Context, addresses []string, chainIDs []uint64) ([]models.Verification, error) {
	return s.verifications, s.err
}

func testRegistry() *chains.Registry {
	return chains.FromConfig(config.GetDefaultConfig().Chains)
}

func TestLookup_AvailableChains(t *testing.T) {
	lookup := NewLookup(&stubVerifier{verifications: []models.Verification{{
		Address: address,
		ChainIDs: []models.ChainVerification{
			{ChainID: "1", Status: "partial"},
			{ChainID: "8453", Status: "perfect"},
			{ChainID: "56", Status: "perfect"},
		},
	}}}, testRegistry(), logrus.New())

	got := lookup.AvailableChains(context.Background(), address)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(8453), got[0].ID)
	assert.Equal(t, uint64(1), got[1].ID)
}

func TestLookup_FallsBackToFullList(t *testing.T) {
	registry := testRegistry()

	empty := NewLookup(&stubVerifier{verifications: []models.Verification{{Address: address}}}, registry, logrus.New())
	assert.Len(t, empty.AvailableChains(context.Background(), address), 5)

	unsupported := NewLookup(&stubVerifier{verifications: []models.Verification{{
		Address:  address,
		ChainIDs: []models.ChainVerification{{ChainID: "56", Status: "perfect"}},
	}}}, registry, logrus.New())
	assert.Len(t, unsupported.AvailableChains(context.Background(), address), 5)

	failing := NewLookup(&stubVerifier{err: errors.New("503")}, registry, logrus.New())
	got := failing.AvailableChains(context.Background(), address)
	require.Len(t, got, 5)
	assert.Equal(t, uint64(8453), got[0].ID)
}
