package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"AI_PROCTOR/go-backend/internal/models"

	"github.com/gorilla/websocket"
)

var (
	backendURL = flag.String("backend", "http://localhost:8081", "Backend base URL")
	email      = flag.String("email", "test@example.com", "Candidate email")
	username   = flag.String("username", "testuser", "Candidate username")
	password   = flag.String("password", "Test123456", "Candidate password")
	duration   = flag.Duration("duration", 30*time.Second, "How long to stream before disconnecting")
	fps        = flag.Int("fps", 15, "Frames per second to send")
	denyCamera = flag.Bool("deny-camera", false, "Answer the camera request with NotAllowedError")
	noWait     = flag.Bool("y", false, "Start without waiting for Enter")
)

// Проверка состояния
func testHealth(client *http.Client) error {
	fmt.Println("\n[TEST] Testing /api/health...")
	resp, err := client.Get(*backendURL + "/api/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("✓ Health check: %s\n", strings.TrimSpace(string(body)))
	return nil
}

// проверка регистрации
func testRegister(client *http.Client) error {
	fmt.Println("\n[TEST] Testing /api/auth/register...")

	resp, err := postJSON(client, "/api/auth/register", models.RegisterRequest{
		Email:    *email,
		Username: *username,
		Password: *password,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusCreated:
		fmt.Printf("✓ Registration successful: %s\n", strings.TrimSpace(string(body)))
		return nil
	case http.StatusConflict:
		fmt.Printf("⚠ User already exists (this is OK)\n")
		return nil
	}
	return fmt.Errorf("registration failed: status %d, body: %s", resp.StatusCode, string(body))
}

// Проверка логина
func testLogin(client *http.Client) error {
	fmt.Println("\n[TEST] Testing /api/auth/login...")

	resp, err := postJSON(client, "/api/auth/login", models.LoginRequest{Email: *email, Password: *password})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: status %d, body: %s", resp.StatusCode, string(body))
	}
	if len(resp.Cookies()) == 0 {
		return fmt.Errorf("no session cookie received")
	}

	fmt.Printf("✓ Login successful, session cookie received\n")
	return nil
}

func postJSON(client *http.Client, path string, v any) (*http.Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return client.Post(*backendURL+path, "application/json", bytes.NewReader(data))
}

// candidate plays the browser side of the proctoring channel.
type candidate struct {
	conn      *websocket.Conn
	frame     []byte
	width     int
	height    int
	streaming bool
	seq       int32
}

func (c *candidate) send(msgType string, payload any) error {
	return c.conn.WriteJSON(map[string]any{
		"type":      msgType,
		"payload":   payload,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (c *candidate) sendFrame() error {
	c.seq++
	return c.send(models.MsgFrame, models.FramePayload{
		Frame:          base64.StdEncoding.EncodeToString(c.frame),
		Width:          c.width,
		Height:         c.height,
		Timestamp:      time.Now().UnixMilli(),
		SequenceNumber: c.seq,
	})
}

// Проверка канала наблюдения
func testProctoring(client *http.Client, frame []byte) error {
	fmt.Println("\n[TEST] Testing /ws proctoring channel...")

	base, err := url.Parse(*backendURL)
	if err != nil {
		return err
	}
	wsURL := *base
	wsURL.Scheme = strings.Replace(base.Scheme, "http", "ws", 1)
	wsURL.Path = "/ws"

	header := http.Header{}
	for _, ck := range client.Jar.Cookies(base) {
		header.Add("Cookie", ck.String())
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), header)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	c := &candidate{conn: conn, frame: frame, width: 640, height: 480}
	incoming := make(chan models.WebSocketMessage, 64)
	go func() {
		defer close(incoming)
		for {
			var msg models.WebSocketMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			incoming <- msg
		}
	}()

	if err := c.send(models.MsgToggleOperatorView, models.OperatorViewPayload{Visible: true}); err != nil {
		return err
	}

	frames := time.NewTicker(time.Second / time.Duration(*fps))
	defer frames.Stop()
	cursor := time.NewTicker(100 * time.Millisecond)
	defer cursor.Stop()
	deadline := time.After(*duration)
	start := time.Now()

	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				fmt.Println("⚠ Server closed the connection")
				return nil
			}
			if done, err := c.handle(msg); done || err != nil {
				return err
			}

		case <-frames.C:
			if c.streaming {
				if err := c.sendFrame(); err != nil {
					return err
				}
			}

		case <-cursor.C:
			t := time.Since(start).Seconds()
			x := 640 + 300*math.Cos(t)
			y := 360 + 200*math.Sin(t)
			if err := c.send(models.MsgCursor, models.CursorPayload{X: x, Y: y}); err != nil {
				return err
			}

		case <-deadline:
			fmt.Printf("✓ Streamed %d frames without being removed\n", c.seq)
			_ = testOperatorSnapshot(client)
			return c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
	}
}

// handle reacts to one server message. It reports true once the
// candidate has been redirected.
func (c *candidate) handle(msg models.WebSocketMessage) (bool, error) {
	payload, _ := json.Marshal(msg.Payload)

	switch msg.Type {
	case models.MsgWelcome:
		fmt.Printf("✓ Connected: %s\n", payload)

	case models.MsgStartCapture:
		if *denyCamera {
			fmt.Println("  camera requested, denying")
			return false, c.send(models.MsgDeviceError, models.DeviceErrorPayload{Name: "NotAllowedError"})
		}
		fmt.Printf("  camera requested %s, granting\n", payload)
		c.streaming = true
		if err := c.send(models.MsgDeviceGranted, nil); err != nil {
			return false, err
		}
		return false, c.sendFrame()

	case models.MsgStopCapture:
		fmt.Println("  camera released")
		c.streaming = false

	case models.MsgNotify:
		var n models.NotifyPayload
		_ = json.Unmarshal(payload, &n)
		fmt.Printf("  [%s] %s\n", strings.ToUpper(n.Severity), n.Message)

	case models.MsgState:
		var s models.Snapshot
		_ = json.Unmarshal(payload, &s)
		fmt.Printf("  state: gaze=%s warnings=%d/%d status=%s camera=%v\n",
			s.GazeState, s.WarningCount, s.MaxWarnings, s.Status, s.CaptureActive)

	case models.MsgRedirect:
		var r models.RedirectPayload
		_ = json.Unmarshal(payload, &r)
		fmt.Printf("⚠ Redirected to %s after %d frames\n", r.Path, c.seq)
		return true, nil
	}
	return false, nil
}

// Просмотр панели оператора
func testOperatorSnapshot(client *http.Client) error {
	fmt.Println("\n[TEST] Testing /api/operator/snapshot...")
	resp, err := client.Get(*backendURL + "/api/operator/snapshot")
	if err != nil {
		return fmt.Errorf("operator snapshot failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("  status %d: %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
	return nil
}

// generateTestImage draws a face-sized ellipse on a grey background and
// encodes it as JPEG.
func generateTestImage() ([]byte, error) {
	const w, h = 640, 480
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := float64(x-w/2) / 120
			dy := float64(y-h/2) / 160
			if dx*dx+dy*dy <= 1 {
				img.Set(x, y, color.RGBA{R: 224, G: 172, B: 105, A: 255})
			} else {
				img.Set(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func main() {
	flag.Parse()
	if *fps <= 0 {
		*fps = 15
	}

	fmt.Println("=" + strings.Repeat("=", 60))
	fmt.Println("AI PROCTOR - Candidate Simulator")
	fmt.Println("=" + strings.Repeat("=", 60))

	fmt.Println("\n[INFO] Make sure the Go backend is running on", *backendURL)
	if !*noWait {
		fmt.Println("\nPress Enter to start tests...")
		fmt.Scanln()
	}

	fmt.Println("\n[INFO] Generating test image...")
	frameData, err := generateTestImage()
	if err != nil {
		log.Fatalf("Failed to generate test image: %v", err)
	}
	fmt.Printf("✓ Generated test image: %d bytes\n", len(frameData))

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	tests := []struct {
		name string
		fn   func(*http.Client) error
	}{
		{"Health Check", testHealth},
		{"Registration", testRegister},
		{"Login", testLogin},
	}
	for _, test := range tests {
		if err := test.fn(client); err != nil {
			log.Printf("❌ %s failed: %v", test.name, err)
			os.Exit(1)
		}
	}

	if err := testProctoring(client, frameData); err != nil {
		log.Printf("❌ Proctoring failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("✅ All tests completed!")
	fmt.Println("=" + strings.Repeat("=", 60))
}
