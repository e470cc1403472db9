package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message types matching the gateway's protocol
type CommandMessage struct {
	MessageID string                 `json:"message_id"`
	Command   string                 `json:"command"`
	Args      map[string]interface{} `json:"args,omitempty"`
}

type ResultMessage struct {
	MessageID string      `json:"message_id"`
	Result    interface{} `json:"result,omitempty"`
	ErrorCode int         `json:"error_code,omitempty"`
	Details   *string     `json:"details,omitempty"`
}

type EventMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// mDNS discovery for finding the gateway
func discoverGateway(ctx context.Context, hostname string, timeout time.Duration) (string, error) {
	fmt.Printf("🔍 Discovering %s via mDNS...\n", hostname)

	// Listen on mDNS multicast address
	conn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{
		IP:   net.IPv4(224, 0, 0, 251),
		Port: 5353,
	})
	if err != nil {
		return "", fmt.Errorf("failed to listen on mDNS: %w", err)
	}
	defer conn.Close()

	query := buildDNSQuery(hostname, 1) // A record

	// Send query
	_, err = conn.WriteToUDP(query, &net.UDPAddr{
		IP:   net.IPv4(224, 0, 0, 251),
		Port: 5353,
	})
	if err != nil {
		return "", fmt.Errorf("failed to send mDNS query: %w", err)
	}

	fmt.Printf("📡 Sent mDNS query for %s...\n", hostname)

	// Listen for responses with timeout
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 1500)

	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			continue
		}

		// Parse DNS response and look for A records
		if ip := parseDNSResponse(buf[:n], hostname); ip != "" {
			fmt.Printf("✅ Found gateway at %s (from %s)\n", ip, addr.IP)
			return ip, nil
		}
	}

	// Fallback: try localhost
	fmt.Println("⚠️ No mDNS response received, trying localhost...")
	return "127.0.0.1", nil
}

// Simplified DNS query builder
func buildDNSQuery(hostname string, recordType uint16) []byte {
	query := make([]byte, 0, 256)

	// DNS header
	query = append(query, 0x00, 0x00) // ID
	query = append(query, 0x01, 0x00) // Flags (standard query)
	query = append(query, 0x00, 0x01) // Questions
	query = append(query, 0x00, 0x00) // Answers
	query = append(query, 0x00, 0x00) // Authority RRs
	query = append(query, 0x00, 0x00) // Additional RRs

	// Question section
	parts := strings.Split(hostname, ".")
	for _, part := range parts {
		if part != "" {
			query = append(query, byte(len(part)))
			query = append(query, []byte(part)...)
		}
	}
	query = append(query, 0x00) // End of name

	// Query type and class
	query = append(query, byte(recordType>>8), byte(recordType)) // Type A
	query = append(query, 0x00, 0x01)                            // Class IN

	return query
}

// Simplified DNS response parser
func parseDNSResponse(buf []byte, hostname string) string {
	if len(buf) < 12 {
		return ""
	}

	// Check if it's a response
	if buf[2]&0x80 == 0 {
		return ""
	}

	answerCount := uint16(buf[6])<<8 | uint16(buf[7])
	if answerCount == 0 {
		return ""
	}

	// Skip header and questions to get to answers
	offset := 12

	// Skip questions
	questionCount := uint16(buf[4])<<8 | uint16(buf[5])
	for i := uint16(0); i < questionCount; i++ {
		// Skip name
		for offset < len(buf) && buf[offset] != 0 {
			if buf[offset]&0xc0 == 0xc0 {
				offset += 2
				break
			}
			offset += int(buf[offset]) + 1
		}
		if offset < len(buf) && buf[offset] == 0 {
			offset++
		}
		offset += 4 // Skip type and class
	}

	// Parse answers
	for i := uint16(0); i < answerCount && offset+10 < len(buf); i++ {
		// Skip name (could be compressed)
		if buf[offset]&0xc0 == 0xc0 {
			offset += 2
		} else {
			for offset < len(buf) && buf[offset] != 0 {
				offset += int(buf[offset]) + 1
			}
			if offset < len(buf) {
				offset++ // Skip null terminator
			}
		}

		if offset+10 > len(buf) {
			break
		}

		recordType := uint16(buf[offset])<<8 | uint16(buf[offset+1])
		dataLen := uint16(buf[offset+8])<<8 | uint16(buf[offset+9])
		offset += 10

		if recordType == 1 && dataLen == 4 && offset+4 <= len(buf) { // A record
			ip := net.IP(buf[offset : offset+4])
			return ip.String()
		}
		offset += int(dataLen)
	}

	return ""
}

// WebSocket client for communicating with the gateway
type GatewayClient struct {
	conn   *websocket.Conn
	url    string
	logger func(string, ...interface{})
}

func NewGatewayClient(serverIP string, port int) *GatewayClient {
	return &GatewayClient{
		url: fmt.Sprintf("ws://%s:%d/ws", serverIP, port),
		logger: func(format string, args ...interface{}) {
			log.Printf(format, args...)
		},
	}
}

func (gc *GatewayClient) Connect(ctx context.Context) error {
	gc.logger("🔌 Connecting to gateway at %s", gc.url)

	u, err := url.Parse(gc.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	gc.conn = conn
	gc.logger("✅ Connected to gateway WebSocket")

	// Start message reader
	go gc.readMessages(ctx)

	return nil
}

func (gc *GatewayClient) readMessages(ctx context.Context) {
	defer gc.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg json.RawMessage
			err := gc.conn.ReadJSON(&msg)
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					gc.logger("❌ Error reading message: %v", err)
				}
				return
			}

			gc.handleMessage(msg)
		}
	}
}

func (gc *GatewayClient) handleMessage(rawMsg json.RawMessage) {
	// Try to determine message type
	var msgType map[string]interface{}
	if err := json.Unmarshal(rawMsg, &msgType); err != nil {
		gc.logger("❌ Failed to parse message: %v", err)
		return
	}

	if _, hasResult := msgType["result"]; hasResult || msgType["error_code"] != nil {
		// Result message
		var result ResultMessage
		if err := json.Unmarshal(rawMsg, &result); err == nil {
			if result.ErrorCode != 0 {
				details := "unknown error"
				if result.Details != nil {
					details = *result.Details
				}
				gc.logger("❌ Command failed [%s]: error %d - %s", result.MessageID, result.ErrorCode, details)
			} else {
				gc.logger("✅ Command success [%s]: %v", result.MessageID, result.Result)
			}
		}
	} else if _, hasEvent := msgType["event"]; hasEvent {
		// Event message
		var eventMsg EventMessage
		if err := json.Unmarshal(rawMsg, &eventMsg); err == nil {
			gc.logger("📢 Event: %s - %v", eventMsg.Event, eventMsg.Data)
		}
	} else {
		gc.logger("📨 Raw message: %s", string(rawMsg))
	}
}

func (gc *GatewayClient) SendCommand(command string, args map[string]interface{}) error {
	cmd := CommandMessage{
		MessageID: uuid.New().String(),
		Command:   command,
		Args:      args,
	}

	gc.logger("📤 Sending command: %s [%s]", command, cmd.MessageID)

	return gc.conn.WriteJSON(cmd)
}

func (gc *GatewayClient) Close() error {
	if gc.conn != nil {
		return gc.conn.Close()
	}
	return nil
}

func main() {
	fmt.Println("🚀 BLE Central Gateway Example Client")
	fmt.Println("=====================================")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n🛑 Shutting down...")
		cancel()
	}()

	// Discover the gateway via mDNS
	serverIP, err := discoverGateway(ctx, "ble-central.local", 5*time.Second)
	if err != nil {
		log.Fatalf("❌ Failed to discover gateway: %v", err)
	}

	// Connect to the gateway
	client := NewGatewayClient(serverIP, 5680)
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("❌ Failed to connect to gateway: %v", err)
	}
	defer client.Close()

	// Wait a moment for connection to stabilize
	time.Sleep(1 * time.Second)

	// Send example commands
	examples := []struct {
		name    string
		command string
		args    map[string]interface{}
	}{
		{
			name:    "Get Server Info",
			command: "server_info",
			args:    nil,
		},
		{
			name:    "Get Server Diagnostics",
			command: "diagnostics",
			args:    nil,
		},
		{
			name:    "Get Adapter State",
			command: "adapter_state",
			args:    nil,
		},
		{
			name:    "Start Listening",
			command: "start_listening",
			args:    nil,
		},
		{
			name:    "Start Scanning",
			command: "start_scan",
			args:    map[string]interface{}{},
		},
	}

	fmt.Println("\n📋 Sending example commands...")
	for i, example := range examples {
		fmt.Printf("\n%d. %s\n", i+1, example.name)
		if err := client.SendCommand(example.command, example.args); err != nil {
			log.Printf("❌ Failed to send %s command: %v", example.command, err)
		}
		time.Sleep(1 * time.Second) // Wait between commands
	}

	fmt.Println("\n⏳ Listening for discovery events for 10 seconds...")

	// Listen for responses and events
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		fmt.Println("⏰ Timeout reached")
	}

	// Stop the scan before leaving
	if err := client.SendCommand("stop_scan", nil); err != nil {
		log.Printf("❌ Failed to send stop_scan command: %v", err)
	}
	time.Sleep(500 * time.Millisecond)

	fmt.Println("👋 Client shutting down...")
}
