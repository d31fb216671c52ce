package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sokoni/auction-engine/internal/auction"
	"github.com/sokoni/auction-engine/internal/auth"
	"github.com/sokoni/auction-engine/internal/bidding"
	"github.com/sokoni/auction-engine/internal/config"
	"github.com/sokoni/auction-engine/internal/database"
	"github.com/sokoni/auction-engine/internal/domainerrors"
	"github.com/sokoni/auction-engine/internal/escrow"
	"github.com/sokoni/auction-engine/internal/events"
	"github.com/sokoni/auction-engine/internal/fees"
	"github.com/sokoni/auction-engine/internal/ledger"
	"github.com/sokoni/auction-engine/internal/types"
	"github.com/sokoni/auction-engine/pkg/middleware"
)

const (
	minAuctions   = 8
	maxAuctions   = 20
	numWorkers    = 3
	serverAddress = "http://localhost:8080"
	internalKey   = "simulation-internal-key"
	adminUser     = "ops_admin"
	bidderFunding = 100000
	databasePath  = "simulation.db"
)

var (
	sellers = []string{"seller_1", "seller_2", "seller_3"}

	items = []string{
		"vintage radio", "espresso machine", "mountain bike", "film camera",
		"standing desk", "record player", "mechanical keyboard", "acoustic guitar",
	}

	// Reverse auctions are procurement runs: the poster names a budget and
	// vendors quote downward.
	contracts = []string{
		"office cleaning contract", "catering retainer", "courier service retainer",
	}
)

// bidderProfile shapes how a simulated bidder behaves in an auction.
type bidderProfile struct {
	name      string
	increment float64       // multiplier on the auction's minimum increment
	delay     time.Duration // pause between bid attempts
	maxOutlay int64         // most this profile will sink into one auction
	impulsive bool          // will take a buy-now when one is offered
}

var bidderProfiles = []bidderProfile{
	{name: "steady", increment: 1.0, delay: 700 * time.Millisecond, maxOutlay: 6000},
	{name: "aggressive", increment: 2.5, delay: 400 * time.Millisecond, maxOutlay: 12000},
	{name: "patient", increment: 1.0, delay: 1200 * time.Millisecond, maxOutlay: 9000},
	{name: "impulsive", increment: 1.5, delay: 500 * time.Millisecond, maxOutlay: 15000, impulsive: true},
}

// simBidder is one funded participant with a behavior profile.
type simBidder struct {
	userID  string
	profile bidderProfile
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	mu         sync.Mutex
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// addFailure records a transport or server error for the route
func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the auction API
type simulationClient struct {
	baseURL string
	client  *http.Client
	stats   map[string]*routeStats

	mu     sync.Mutex
	tokens map[string]string // per-user JWTs minted through the gateway route
}

// newSimulationClient creates and initializes a new simulation client
func newSimulationClient() *simulationClient {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	return &simulationClient{
		baseURL: serverAddress,
		client:  client,
		tokens:  make(map[string]string),
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"credit":   {name: "Credit Account"},
			"create":   {name: "Create Auction"},
			"activate": {name: "Activate Auction"},
			"get":      {name: "Get Auction"},
			"bid":      {name: "Place Bid"},
			"buy_now":  {name: "Buy Now"},
			"escrow":   {name: "Escrow Ops"},
			"dispute":  {name: "Dispute Ops"},
			"admin":    {name: "Admin Reads"},
		},
	}
}

// request performs one API call and returns the status code and raw body.
// The caller decodes the response envelope itself.
func (sc *simulationClient) request(method, path, token string, idempotent bool, payload interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewBuffer(body)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}

	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotent {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("API call")
	return resp.StatusCode, respBody, nil
}

// errorCode extracts the domain error code from a rejection envelope.
func errorCode(body []byte) string {
	var result struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return ""
	}
	return result.Error.Code
}

// authenticate mints a JWT for the given user through the gateway route
func (sc *simulationClient) authenticate(userID, role string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := auth.Credentials{
		APIKey:    auth.TestAPIKey,
		APISecret: auth.TestAPISecret,
		UserID:    userID,
		Role:      role,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest("POST", sc.baseURL+"/api/v1/auth/token", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-API-Key", internalKey)

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["auth"].addFailure()
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats["auth"].addFailure()
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// tokenFor returns a cached JWT for the user, minting one on first use
func (sc *simulationClient) tokenFor(userID, role string) (string, error) {
	sc.mu.Lock()
	token, ok := sc.tokens[userID]
	sc.mu.Unlock()
	if ok {
		return token, nil
	}

	token, err := sc.authenticate(userID, role)
	if err != nil {
		return "", err
	}

	sc.mu.Lock()
	sc.tokens[userID] = token
	sc.mu.Unlock()
	return token, nil
}

// creditAccount mints tokens into a user's balance via the internal route
func (sc *simulationClient) creditAccount(userID string, amount int64) error {
	start := time.Now()
	defer func() {
		sc.stats["credit"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(types.CreditRequest{
		UserID:    userID,
		Amount:    amount,
		Reference: "simulation seed",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", sc.baseURL+"/api/v1/internal/ledger/credit", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-API-Key", internalKey)

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["credit"].addFailure()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats["credit"].addFailure()
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("credit failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// createAuction lists a new auction for the seller and returns its ID
func (sc *simulationClient) createAuction(sellerID string, req *types.CreateAuctionRequest) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["create"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(sellerID, auth.RoleMember)
	if err != nil {
		return "", err
	}

	status, body, err := sc.request("POST", "/api/v1/auctions", token, true, req)
	if err != nil {
		sc.stats["create"].addFailure()
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		sc.stats["create"].addFailure()
		return "", fmt.Errorf("create auction failed with status %d: %s", status, string(body))
	}

	var result struct {
		Success bool          `json:"success"`
		Data    types.Auction `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}
	if result.Data.AuctionID == "" {
		return "", fmt.Errorf("no auction ID in response: %s", string(body))
	}

	return result.Data.AuctionID, nil
}

// activateAuction opens a pending auction for bidding
func (sc *simulationClient) activateAuction(auctionID string) error {
	start := time.Now()
	defer func() {
		sc.stats["activate"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(adminUser, auth.RoleAdmin)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/v1/auctions/%s/activate", auctionID)
	status, body, err := sc.request("POST", path, token, false, nil)
	if err != nil {
		sc.stats["activate"].addFailure()
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		sc.stats["activate"].addFailure()
		return fmt.Errorf("activate failed with status %d: %s", status, string(body))
	}
	return nil
}

// getAuction retrieves the current state of an auction
func (sc *simulationClient) getAuction(callerID, auctionID string) (*types.Auction, error) {
	start := time.Now()
	defer func() {
		sc.stats["get"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(callerID, auth.RoleMember)
	if err != nil {
		return nil, err
	}

	status, body, err := sc.request("GET", "/api/v1/auctions/"+auctionID, token, false, nil)
	if err != nil {
		sc.stats["get"].addFailure()
		return nil, err
	}
	if status != http.StatusOK {
		sc.stats["get"].addFailure()
		return nil, fmt.Errorf("get auction failed with status %d: %s", status, string(body))
	}

	var result struct {
		Success bool          `json:"success"`
		Data    types.Auction `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}
	return &result.Data, nil
}

// placeBid submits a bid. An accepted bid returns a result; a rule
// rejection returns the domain code instead of an error.
func (sc *simulationClient) placeBid(bidderID, auctionID string, amount int64) (*types.BidResult, string, error) {
	start := time.Now()
	defer func() {
		sc.stats["bid"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(bidderID, auth.RoleMember)
	if err != nil {
		return nil, "", err
	}

	path := fmt.Sprintf("/api/v1/auctions/%s/bids", auctionID)
	status, body, err := sc.request("POST", path, token, true, &types.PlaceBidRequest{Amount: amount})
	if err != nil {
		sc.stats["bid"].addFailure()
		return nil, "", err
	}

	if status == http.StatusOK || status == http.StatusCreated {
		var result struct {
			Success bool            `json:"success"`
			Data    types.BidResult `json:"data"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
		}
		return &result.Data, "", nil
	}

	if code := errorCode(body); code != "" && status < http.StatusInternalServerError {
		return nil, code, nil
	}

	sc.stats["bid"].addFailure()
	return nil, "", fmt.Errorf("place bid failed with status %d: %s", status, string(body))
}

// buyNow takes an auction at its buy-now price
func (sc *simulationClient) buyNow(buyerID, auctionID string) (*types.CloseResult, string, error) {
	start := time.Now()
	defer func() {
		sc.stats["buy_now"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(buyerID, auth.RoleMember)
	if err != nil {
		return nil, "", err
	}

	path := fmt.Sprintf("/api/v1/auctions/%s/buy-now", auctionID)
	status, body, err := sc.request("POST", path, token, false, nil)
	if err != nil {
		sc.stats["buy_now"].addFailure()
		return nil, "", err
	}

	if status == http.StatusOK || status == http.StatusCreated {
		var result struct {
			Success bool              `json:"success"`
			Data    types.CloseResult `json:"data"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
		}
		return &result.Data, "", nil
	}

	if code := errorCode(body); code != "" && status < http.StatusInternalServerError {
		return nil, code, nil
	}

	sc.stats["buy_now"].addFailure()
	return nil, "", fmt.Errorf("buy-now failed with status %d: %s", status, string(body))
}

// listEscrows returns the escrows the user participates in
func (sc *simulationClient) listEscrows(userID string) ([]types.EscrowTransaction, error) {
	start := time.Now()
	defer func() {
		sc.stats["escrow"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(userID, auth.RoleMember)
	if err != nil {
		return nil, err
	}

	status, body, err := sc.request("GET", "/api/v1/escrows", token, false, nil)
	if err != nil {
		sc.stats["escrow"].addFailure()
		return nil, err
	}
	if status != http.StatusOK {
		sc.stats["escrow"].addFailure()
		return nil, fmt.Errorf("list escrows failed with status %d: %s", status, string(body))
	}

	var result struct {
		Success bool                      `json:"success"`
		Data    []types.EscrowTransaction `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}
	return result.Data, nil
}

// markDelivered records the seller's delivery claim on an escrow
func (sc *simulationClient) markDelivered(sellerID, escrowID string) error {
	start := time.Now()
	defer func() {
		sc.stats["escrow"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(sellerID, auth.RoleMember)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/v1/escrows/%s/delivered", escrowID)
	status, body, err := sc.request("POST", path, token, false, nil)
	if err != nil {
		sc.stats["escrow"].addFailure()
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		sc.stats["escrow"].addFailure()
		return fmt.Errorf("mark delivered failed with status %d: %s", status, string(body))
	}
	return nil
}

// confirmDelivery settles an escrow with the buyer's confirmation
func (sc *simulationClient) confirmDelivery(buyerID, escrowID string, rating int) error {
	start := time.Now()
	defer func() {
		sc.stats["escrow"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(buyerID, auth.RoleMember)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/v1/escrows/%s/confirm", escrowID)
	status, body, err := sc.request("POST", path, token, false, types.ConfirmDeliveryRequest{Rating: rating})
	if err != nil {
		sc.stats["escrow"].addFailure()
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		sc.stats["escrow"].addFailure()
		return fmt.Errorf("confirm delivery failed with status %d: %s", status, string(body))
	}
	return nil
}

// fileDispute opens a dispute against an escrow and returns its ID
func (sc *simulationClient) fileDispute(userID, escrowID, reason string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["dispute"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(userID, auth.RoleMember)
	if err != nil {
		return "", err
	}

	path := fmt.Sprintf("/api/v1/escrows/%s/dispute", escrowID)
	status, body, err := sc.request("POST", path, token, false, types.FileDisputeRequest{Reason: reason})
	if err != nil {
		sc.stats["dispute"].addFailure()
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		sc.stats["dispute"].addFailure()
		return "", fmt.Errorf("file dispute failed with status %d: %s", status, string(body))
	}

	var result struct {
		Success bool          `json:"success"`
		Data    types.Dispute `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}
	return result.Data.DisputeID, nil
}

// resolveDispute takes the investigation and applies an admin ruling
func (sc *simulationClient) resolveDispute(disputeID, outcome string) error {
	start := time.Now()
	defer func() {
		sc.stats["dispute"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(adminUser, auth.RoleAdmin)
	if err != nil {
		return err
	}

	assignPath := fmt.Sprintf("/api/v1/disputes/%s/assign", disputeID)
	if status, body, err := sc.request("POST", assignPath, token, false, nil); err != nil {
		sc.stats["dispute"].addFailure()
		return err
	} else if status != http.StatusOK && status != http.StatusCreated {
		sc.stats["dispute"].addFailure()
		return fmt.Errorf("assign dispute failed with status %d: %s", status, string(body))
	}

	resolvePath := fmt.Sprintf("/api/v1/disputes/%s/resolve", disputeID)
	payload := types.ResolveDisputeRequest{
		Outcome:    outcome,
		Resolution: "simulated ruling",
	}
	status, body, err := sc.request("POST", resolvePath, token, false, payload)
	if err != nil {
		sc.stats["dispute"].addFailure()
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		sc.stats["dispute"].addFailure()
		return fmt.Errorf("resolve dispute failed with status %d: %s", status, string(body))
	}
	return nil
}

// getSupply returns the aggregate token supply
func (sc *simulationClient) getSupply() (*types.SupplyResponse, error) {
	start := time.Now()
	defer func() {
		sc.stats["admin"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(adminUser, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}

	status, body, err := sc.request("GET", "/api/v1/ledger/supply", token, false, nil)
	if err != nil {
		sc.stats["admin"].addFailure()
		return nil, err
	}
	if status != http.StatusOK {
		sc.stats["admin"].addFailure()
		return nil, fmt.Errorf("get supply failed with status %d: %s", status, string(body))
	}

	var result struct {
		Success bool                 `json:"success"`
		Data    types.SupplyResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}
	return &result.Data, nil
}

// countEvents returns how many events of the given type the outbox holds
func (sc *simulationClient) countEvents(eventType string) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["admin"].addDuration(time.Since(start))
	}()

	token, err := sc.tokenFor(adminUser, auth.RoleAdmin)
	if err != nil {
		return 0, err
	}

	path := fmt.Sprintf("/api/v1/events?type=%s&limit=500", eventType)
	status, body, err := sc.request("GET", path, token, false, nil)
	if err != nil {
		sc.stats["admin"].addFailure()
		return 0, err
	}
	if status != http.StatusOK {
		sc.stats["admin"].addFailure()
		return 0, fmt.Errorf("get events failed with status %d: %s", status, string(body))
	}

	var result struct {
		Success bool                `json:"success"`
		Data    []types.OutboxEvent `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}
	return len(result.Data), nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// warStats aggregates bidding outcomes across all concurrent bid wars.
type warStats struct {
	accepted       atomic.Int64
	rejected       atomic.Int64
	buyNowAttempts atomic.Int64
	buyNowWins     atomic.Int64
}

// main runs the auction simulation
// It starts a local engine and pits simulated bidders against each other
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient := newSimulationClient()

	// Build the bidder pool and fund everyone
	var bidders []simBidder
	for i := 0; i < 6; i++ {
		bidders = append(bidders, simBidder{
			userID:  fmt.Sprintf("bidder_%d", i+1),
			profile: bidderProfiles[i%len(bidderProfiles)],
		})
	}
	for _, b := range bidders {
		if err := simClient.creditAccount(b.userID, bidderFunding); err != nil {
			log.Fatal().Err(err).Str("user_id", b.userID).Msg("Failed to fund bidder")
		}
	}
	log.Info().Int("bidders", len(bidders)).Msg("Bidders funded")

	// Generate random number of auctions to run
	targetAuctions := rand.Intn(maxAuctions-minAuctions) + minAuctions
	log.Info().Int("target_auctions", targetAuctions).Msg("Starting simulation")

	// Channel to collect auction IDs
	auctionsChan := make(chan string, targetAuctions)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			createAuctionsHTTP(workerID, targetAuctions/numWorkers, simClient, auctionsChan)
		}(i)
	}

	// Wait for all auctions to be created
	wg.Wait()
	close(auctionsChan)

	// Collect all auction IDs and open them for bidding
	var auctionIDs []string
	activated := 0
	for auctionID := range auctionsChan {
		auctionIDs = append(auctionIDs, auctionID)
		if err := simClient.activateAuction(auctionID); err != nil {
			log.Error().Err(err).Str("auction_id", auctionID).Msg("Failed to activate auction")
			continue
		}
		activated++
	}
	log.Info().Int("created", len(auctionIDs)).Int("activated", activated).Msg("Auctions open for bidding")

	startTime := time.Now()

	// Run the bid wars
	war := &warStats{}
	var warWg sync.WaitGroup
	for _, auctionID := range auctionIDs {
		warWg.Add(1)
		go runBidWar(simClient, auctionID, bidders, war, &warWg)
	}
	warWg.Wait()

	log.Info().
		Int64("accepted", war.accepted.Load()).
		Int64("rejected", war.rejected.Load()).
		Msg("Bidding finished, waiting for closes")

	// The close sweep ends each auction once its clock runs out
	finalStates := waitForAuctionsToEnd(simClient, auctionIDs, 90*time.Second)

	// Collect close statistics and settle the escrows
	closeReasons := make(map[string]int)
	itemCounts := make(map[string]int)
	var totalValue int64
	settled, refunded, disputes := 0, 0, 0

	for _, state := range finalStates {
		closeReasons[state.CloseReason]++
		itemCounts[state.Title]++

		if state.CloseReason != types.CloseReasonWon && state.CloseReason != types.CloseReasonBoughtNow {
			continue
		}
		totalValue += state.CurrentBid

		escrowID := findEscrowForAuction(simClient, state.WinnerID, state.AuctionID)
		if escrowID == "" {
			log.Error().Str("auction_id", state.AuctionID).Msg("No escrow found for won auction")
			continue
		}

		// Most trades settle cleanly, a few end up in front of an admin
		if rand.Intn(8) == 0 {
			disputeID, err := simClient.fileDispute(state.WinnerID, escrowID, "item not as described")
			if err != nil {
				log.Error().Err(err).Str("escrow_id", escrowID).Msg("Failed to file dispute")
				continue
			}
			disputes++

			outcome := []string{types.ResolutionRelease, types.ResolutionRefund, types.ResolutionSplit}[rand.Intn(3)]
			if err := simClient.resolveDispute(disputeID, outcome); err != nil {
				log.Error().Err(err).Str("dispute_id", disputeID).Msg("Failed to resolve dispute")
				continue
			}
			if outcome == types.ResolutionRefund {
				refunded++
			} else {
				settled++
			}
			log.Info().Str("escrow_id", escrowID).Str("outcome", outcome).Msg("Dispute resolved")
			continue
		}

		if err := simClient.markDelivered(state.SellerID, escrowID); err != nil {
			log.Error().Err(err).Str("escrow_id", escrowID).Msg("Failed to mark delivered")
			continue
		}
		if err := simClient.confirmDelivery(state.WinnerID, escrowID, 3+rand.Intn(3)); err != nil {
			log.Error().Err(err).Str("escrow_id", escrowID).Msg("Failed to confirm delivery")
			continue
		}
		settled++
		log.Info().
			Str("auction_id", state.AuctionID).
			Str("winner_id", state.WinnerID).
			Int64("amount", state.CurrentBid).
			Msg("Escrow settled")
	}

	// Give the dispatcher a moment to drain the outbox
	time.Sleep(2 * time.Second)

	extensions, err := simClient.countEvents("AUCTION_EXTENDED")
	if err != nil {
		log.Error().Err(err).Msg("Failed to count extension events")
	}
	supply, err := simClient.getSupply()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read token supply")
		supply = &types.SupplyResponse{}
	}

	// Print summary
	duration := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 AUCTION SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Auction Statistics
--------------------
Auctions Created:      %d
Activated:             %d
Bids Accepted:         %d
Bids Rejected:         %d
Buy-Now Attempts:      %d
Buy-Now Wins:          %d
Anti-Snipe Extensions: %d
Escrows Settled:       %d
Escrows Refunded:      %d
Disputes Filed:        %d
Total Value:           %d tokens
Duration:              %v

📈 Item Distribution
-------------------
`, len(auctionIDs), activated, war.accepted.Load(), war.rejected.Load(),
		war.buyNowAttempts.Load(), war.buyNowWins.Load(), extensions,
		settled, refunded, disputes, totalValue, duration.Round(time.Millisecond))

	// Print item distribution with simple ASCII bar chart
	maxItemCount := 0
	for _, count := range itemCounts {
		if count > maxItemCount {
			maxItemCount = count
		}
	}

	for item, count := range itemCounts {
		barLength := int(float64(count) / float64(maxItemCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-26s: %s (%d)\n", item, bar, count)
	}

	fmt.Println("\n📉 Close Reasons")
	fmt.Println("---------------")
	for reason, count := range closeReasons {
		barLength := int(float64(count) / float64(len(finalStates)) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-16s: %s (%d)\n", reason, bar, count)
	}

	fmt.Printf(`
🔥 Token Supply
--------------
Total Minted:  %d
Circulating:   %d
Burned:        %d
`, supply.TotalMinted, supply.Circulating, supply.Burned)

	fmt.Println("\n" + strings.Repeat("=", 80))

	// Sale rate calculation
	wins := closeReasons[types.CloseReasonWon] + closeReasons[types.CloseReasonBoughtNow]
	saleRate := 0.0
	if len(finalStates) > 0 {
		saleRate = float64(wins) / float64(len(finalStates)) * 100
	}
	log.Info().
		Float64("sale_rate", saleRate).
		Int("auctions", len(finalStates)).
		Int("settled", settled).
		Int64("total_value", totalValue).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// createAuctionsHTTP generates and submits random auctions to the API
// Runs as a worker goroutine, sending created auction IDs to auctionsChan
func createAuctionsHTTP(workerID, numAuctions int, simClient *simulationClient, auctionsChan chan<- string) {
	for i := 0; i < numAuctions; i++ {
		sellerID := sellers[rand.Intn(len(sellers))]
		req := randomAuctionRequest()

		auctionID, err := simClient.createAuction(sellerID, req)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("title", req.Title).
				Msg("Failed to create auction")
			continue
		}

		auctionsChan <- auctionID
		log.Info().
			Int("worker_id", workerID).
			Str("auction_id", auctionID).
			Str("type", req.Type).
			Str("title", req.Title).
			Int64("starting_bid", req.StartingBid).
			Int64("buy_now", req.BuyNowPrice).
			Msg("Auction created")

		// Random sleep between listings
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// randomAuctionRequest builds a plausible listing. Roughly one in five is
// a reverse procurement auction; forward listings sometimes carry a
// reserve or a buy-now price.
func randomAuctionRequest() *types.CreateAuctionRequest {
	duration := int64(rand.Intn(8) + 8)

	if rand.Intn(5) == 0 {
		return &types.CreateAuctionRequest{
			Type:         types.AuctionTypeReverse,
			Title:        contracts[rand.Intn(len(contracts))],
			StartingBid:  int64(rand.Intn(3000) + 2000),
			MinIncrement: 100,
			Duration:     duration,
		}
	}

	req := &types.CreateAuctionRequest{
		Type:         types.AuctionTypeForward,
		Title:        items[rand.Intn(len(items))],
		StartingBid:  int64(rand.Intn(1500) + 500),
		MinIncrement: []int64{25, 50, 100}[rand.Intn(3)],
		Duration:     duration,
	}
	if rand.Intn(4) == 0 {
		req.ReservePrice = req.StartingBid * 3 / 2
	}
	if rand.Intn(3) == 0 {
		req.BuyNowPrice = req.StartingBid * 3
	}
	return req
}

// runBidWar pits a random subset of bidders against each other on one
// auction until it ends or everyone is priced out
func runBidWar(simClient *simulationClient, auctionID string, pool []simBidder, war *warStats, wg *sync.WaitGroup) {
	defer wg.Done()

	// Two to four contenders per auction
	contenders := make([]simBidder, len(pool))
	copy(contenders, pool)
	rand.Shuffle(len(contenders), func(i, j int) {
		contenders[i], contenders[j] = contenders[j], contenders[i]
	})
	contenders = contenders[:2+rand.Intn(3)]

	var bidderWg sync.WaitGroup
	for _, b := range contenders {
		bidderWg.Add(1)
		go func(b simBidder) {
			defer bidderWg.Done()
			bidUntilDone(simClient, auctionID, b, war)
		}(b)
	}
	bidderWg.Wait()
}

// bidUntilDone keeps one bidder in the war until the auction ends, the
// bidder is priced out, or their funds run dry
func bidUntilDone(simClient *simulationClient, auctionID string, bidder simBidder, war *warStats) {
	deadline := time.Now().Add(60 * time.Second)

	for time.Now().Before(deadline) {
		auction, err := simClient.getAuction(bidder.userID, auctionID)
		if err != nil {
			log.Error().Err(err).Str("auction_id", auctionID).Msg("Failed to fetch auction")
			return
		}
		if auction.Status != types.AuctionStatusActive {
			return
		}

		// Impulsive bidders sometimes skip the war entirely
		if bidder.profile.impulsive && auction.BuyNowPrice > 0 && auction.BuyNowPrice <= bidder.profile.maxOutlay && rand.Intn(8) == 0 {
			war.buyNowAttempts.Add(1)
			result, code, err := simClient.buyNow(bidder.userID, auction.AuctionID)
			if err != nil {
				log.Error().Err(err).Str("auction_id", auctionID).Msg("Buy-now failed")
				return
			}
			if result != nil {
				war.buyNowWins.Add(1)
				log.Info().
					Str("auction_id", auctionID).
					Str("buyer_id", bidder.userID).
					Int64("price", result.FinalAmount).
					Msg("Bought now")
				return
			}
			if code == domainerrors.CodeAuctionNotActive {
				return
			}
		}

		if auction.HighestBidderID == bidder.userID {
			// Already leading, wait out the clock
			time.Sleep(bidder.profile.delay)
			continue
		}

		amount := nextOffer(auction, bidder)
		if amount <= 0 {
			return // priced out
		}

		result, code, err := simClient.placeBid(bidder.userID, auction.AuctionID, amount)
		if err != nil {
			log.Error().Err(err).Str("auction_id", auctionID).Msg("Bid request failed")
			return
		}

		switch {
		case result != nil:
			war.accepted.Add(1)
			log.Info().
				Str("auction_id", auctionID).
				Str("bidder_id", bidder.userID).
				Str("profile", bidder.profile.name).
				Int64("amount", amount).
				Msg("Bid accepted")
		case code == domainerrors.CodeAuctionNotActive:
			return
		case code == domainerrors.CodeInsufficientFunds:
			war.rejected.Add(1)
			return
		default:
			// BID_TOO_LOW and friends: someone beat us to it, go around
			war.rejected.Add(1)
		}

		time.Sleep(bidder.profile.delay + time.Duration(rand.Intn(200))*time.Millisecond)
	}
}

// nextOffer computes the bidder's next amount, or zero when the auction
// has moved beyond what their profile will pay
func nextOffer(auction *types.Auction, bidder simBidder) int64 {
	step := int64(float64(auction.MinIncrement) * bidder.profile.increment)

	if auction.Type == types.AuctionTypeReverse {
		// Quotes descend toward the vendor's cost floor
		floor := auction.StartingBid * 2 / 5
		offer := auction.StartingBid
		if auction.CurrentBid > 0 {
			offer = auction.CurrentBid - step
		}
		if offer < floor {
			return 0
		}
		return offer
	}

	offer := auction.StartingBid
	if auction.CurrentBid > 0 {
		offer = auction.CurrentBid + step
	}
	if offer > bidder.profile.maxOutlay {
		return 0
	}
	return offer
}

// waitForAuctionsToEnd polls until the close sweep has ended every
// auction, returning each one's final state
func waitForAuctionsToEnd(simClient *simulationClient, auctionIDs []string, timeout time.Duration) []*types.Auction {
	deadline := time.Now().Add(timeout)
	states := make(map[string]*types.Auction)

	for time.Now().Before(deadline) {
		remaining := 0
		for _, auctionID := range auctionIDs {
			if state, ok := states[auctionID]; ok && state.Status != types.AuctionStatusActive {
				continue
			}
			state, err := simClient.getAuction(adminUser, auctionID)
			if err != nil {
				log.Error().Err(err).Str("auction_id", auctionID).Msg("Failed to poll auction")
				continue
			}
			states[auctionID] = state
			if state.Status == types.AuctionStatusActive {
				remaining++
			}
		}
		if remaining == 0 {
			break
		}
		log.Debug().Int("remaining", remaining).Msg("Waiting for auctions to close")
		time.Sleep(time.Second)
	}

	final := make([]*types.Auction, 0, len(states))
	for _, state := range states {
		final = append(final, state)
	}
	return final
}

// findEscrowForAuction locates the winner's escrow for a closed auction
func findEscrowForAuction(simClient *simulationClient, winnerID, auctionID string) string {
	escrows, err := simClient.listEscrows(winnerID)
	if err != nil {
		log.Error().Err(err).Str("user_id", winnerID).Msg("Failed to list escrows")
		return ""
	}
	for _, e := range escrows {
		if e.AuctionID == auctionID {
			return e.EscrowID
		}
	}
	return ""
}

// startServer initializes and starts the auction engine
// Sets up all required services, handlers, processors and routes
func startServer() error {
	// Fresh database and fast sweeps so the run finishes quickly
	_ = os.Remove(databasePath)
	os.Setenv("DATABASE_PATH", databasePath)
	os.Setenv("INTERNAL_API_KEY", internalKey)
	os.Setenv("CLOSE_SWEEP_INTERVAL", "500ms")
	os.Setenv("DISPATCH_INTERVAL", "500ms")
	os.Setenv("SNIPE_WINDOW", "2s")
	os.Setenv("SNIPE_EXTENSION", "3s")

	cfg := config.Load()

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(cfg.JWTSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	ledgerService := ledger.NewService(db)
	recorder := events.NewRecorder()
	locks := bidding.NewLockTable()
	calc := fees.NewCalculator(cfg.FeeRateBps, cfg.BurnShareBps)

	engine := bidding.NewEngine(db, ledgerService.Database(), recorder, locks, cfg.SnipeWindow, cfg.SnipeExtension)
	escrowService := escrow.NewService(db, ledgerService.Database(), calc, recorder, cfg.DeliveryWindow, cfg.AutoReleaseEnabled)
	auctionService := auction.NewService(db, ledgerService.Database(), escrowService, recorder, locks)
	eventService := events.NewService(db)

	// Background processors, publishing to the log
	processorCtx := context.Background()
	dispatcher := events.NewDispatcher(eventService.Database(), events.NewLogPublisher(), cfg.DispatchInterval)
	go dispatcher.Start(processorCtx)
	go auction.NewProcessor(auctionService, cfg.CloseSweepInterval).Start(processorCtx)
	go escrow.NewProcessor(escrowService, cfg.ReleaseSweepInterval, cfg.AutoReleaseEnabled).Start(processorCtx)

	// Initialize router
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	auctionHandlers := auction.NewGinHandlers(auctionService)
	biddingHandlers := bidding.NewGinHandlers(engine)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)
	escrowHandlers := escrow.NewGinHandlers(escrowService)
	eventHandlers := events.NewGinHandlers(eventService)

	// Setup routes. Rate limiting stays off so bid bursts hit the engine
	// rather than the limiter.
	setupRoutes(router, cfg, authHandlers, auctionHandlers, biddingHandlers, ledgerHandlers, escrowHandlers, eventHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	auctionHandlers *auction.GinHandlers,
	biddingHandlers *bidding.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	escrowHandlers *escrow.GinHandlers,
	eventHandlers *events.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := v1.Group("/auth")
		authRoutes.Use(middleware.InternalAuth(cfg.InternalAPIKey))
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Auction routes
		auctions := v1.Group("/auctions")
		auctions.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			auctions.POST("", auctionHandlers.CreateAuctionHandler())
			auctions.GET("", auctionHandlers.ListAuctionsHandler())
			auctions.GET("/:auction_id", auctionHandlers.GetAuctionHandler())
			auctions.GET("/:auction_id/bids", biddingHandlers.GetBidsHandler())
			auctions.POST("/:auction_id/bids", biddingHandlers.PlaceBidHandler())
			auctions.POST("/:auction_id/buy-now", auctionHandlers.BuyNowHandler())
			auctions.POST("/:auction_id/close", auctionHandlers.CloseAuctionHandler())
			auctions.POST("/:auction_id/cancel", auctionHandlers.CancelAuctionHandler())
			auctions.POST("/:auction_id/activate", middleware.AdminAuth(), auctionHandlers.ActivateAuctionHandler())
		}

		// Ledger routes
		ledgerRoutes := v1.Group("/ledger")
		ledgerRoutes.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			ledgerRoutes.GET("/balance", ledgerHandlers.GetBalanceHandler())
			ledgerRoutes.GET("/entries", ledgerHandlers.GetEntriesHandler())
			ledgerRoutes.GET("/supply", middleware.AdminAuth(), ledgerHandlers.GetSupplyHandler())
		}

		// Escrow routes
		escrows := v1.Group("/escrows")
		escrows.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			escrows.GET("", escrowHandlers.ListEscrowsHandler())
			escrows.GET("/:escrow_id", escrowHandlers.GetEscrowHandler())
			escrows.POST("/:escrow_id/delivered", escrowHandlers.MarkDeliveredHandler())
			escrows.POST("/:escrow_id/confirm", escrowHandlers.ConfirmDeliveryHandler())
			escrows.POST("/:escrow_id/dispute", escrowHandlers.FileDisputeHandler())
		}

		// Dispute administration
		disputes := v1.Group("/disputes")
		disputes.Use(middleware.JWTAuth(cfg.JWTSecret), middleware.AdminAuth())
		{
			disputes.GET("", escrowHandlers.ListDisputesHandler())
			disputes.GET("/:dispute_id", escrowHandlers.GetDisputeHandler())
			disputes.POST("/:dispute_id/assign", escrowHandlers.AssignDisputeHandler())
			disputes.POST("/:dispute_id/resolve", escrowHandlers.ResolveDisputeHandler())
			disputes.POST("/:dispute_id/close", escrowHandlers.CloseDisputeHandler())
		}

		// Event feed
		eventRoutes := v1.Group("/events")
		eventRoutes.Use(middleware.JWTAuth(cfg.JWTSecret), middleware.AdminAuth())
		{
			eventRoutes.GET("", eventHandlers.GetEventsHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(cfg.InternalAPIKey))
		{
			internal.POST("/ledger/credit", ledgerHandlers.CreditHandler())
		}
	}
}
