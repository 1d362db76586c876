package onvif

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aktnk/camerad/internal/domain/errs"
	"github.com/aktnk/camerad/internal/domain/models"
	"github.com/aktnk/camerad/internal/lib/sl"
)

const (
	soapTimeout = 10 * time.Second

	mediaNS  = "http://www.onvif.org/ver10/media/wsdl"
	deviceNS = "http://www.onvif.org/ver10/device/wsdl"
	ptzNS    = "http://www.onvif.org/ver20/ptz/wsdl"
	schemaNS = "http://www.onvif.org/ver10/schema"
)

// Client speaks the handful of ONVIF SOAP operations the product needs.
type Client struct {
	log   *slog.Logger
	httpc *http.Client
}

func New(log *slog.Logger) *Client {
	return &Client{
		log: log,
		httpc: &http.Client{
			Timeout: soapTimeout,
		},
	}
}

// DateTime is the camera clock as ONVIF reports it (UTC components).
type DateTime struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

func DateTimeFrom(t time.Time) DateTime {
	t = t.UTC()

	return DateTime{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

func (dt DateTime) Time() time.Time {
	return time.Date(dt.Year, time.Month(dt.Month), dt.Day, dt.Hour, dt.Minute, dt.Second, 0, time.UTC)
}

// post sends a SOAP envelope and returns the reply body. HTTP failures map
// to Unreachable/Timeout, auth rejections to Unauthorized, everything else
// non-2xx and SOAP Fault bodies to ProtocolError with the fault preserved.
func (c *Client) post(ctx context.Context, xaddr, action, envelope string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, xaddr, strings.NewReader(envelope))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	req.Header.Set("Content-Type", fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s"`, action))

	resp, err := c.httpc.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", fmt.Errorf("%w: %v", errs.ErrTimeout, err)
		}

		return "", fmt.Errorf("%w: %v", errs.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrProtocol, err)
	}

	xml := string(body)

	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("%w: camera rejected credentials", errs.ErrUnauthorized)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", protocolError(fmt.Sprintf("http %d", resp.StatusCode), xml)
	}

	if strings.Contains(xml, "Fault>") {
		return "", protocolError("soap fault", xml)
	}

	return xml, nil
}

func protocolError(prefix, xml string) error {
	if fault := parseFaultString(xml); fault != "" {
		return fmt.Errorf("%w: %s: %s", errs.ErrProtocol, prefix, fault)
	}

	return fmt.Errorf("%w: %s", errs.ErrProtocol, prefix)
}

func (c *Client) profileToken(ctx context.Context, cam models.Camera) (string, error) {
	body := fmt.Sprintf(`<GetProfiles xmlns="%s"/>`, mediaNS)

	xml, err := c.post(ctx, xaddrOf(cam), mediaNS+"/GetProfiles", envelopeFor(cam, body))
	if err != nil {
		return "", err
	}

	// First profile in document order; cameras list their default first.
	token, ok := parseProfileToken(xml)
	if !ok {
		return "", protocolError("no profile token in GetProfiles reply", xml)
	}

	return token, nil
}

// StreamURL resolves a playable RTSP URL, injecting configured credentials
// at the authority position when the camera returned a bare URI.
func (c *Client) StreamURL(ctx context.Context, cam models.Camera) (string, error) {
	const op = "onvif.StreamURL"

	token, err := c.profileToken(ctx, cam)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	body := fmt.Sprintf(`<GetStreamUri xmlns="%s">
      <StreamSetup>
        <Stream xmlns="%s">RTP-Unicast</Stream>
        <Transport xmlns="%s">
          <Protocol>RTSP</Protocol>
        </Transport>
      </StreamSetup>
      <ProfileToken>%s</ProfileToken>
    </GetStreamUri>`, mediaNS, schemaNS, schemaNS, token)

	xml, err := c.post(ctx, xaddrOf(cam), mediaNS+"/GetStreamUri", envelopeFor(cam, body))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	uri, ok := parseStreamURI(xml)
	if !ok {
		return "", fmt.Errorf("%s: %w", op, protocolError("no uri in GetStreamUri reply", xml))
	}

	user, pass := credsOf(cam)
	final := injectCredentials(uri, user, pass)

	c.log.Debug("resolved stream url", slog.Int("camera_id", cam.ID), slog.String("url", final))

	return final, nil
}

// PTZServiceURL returns the PTZ service address from GetCapabilities, or
// NotFound when the camera advertises none.
func (c *Client) PTZServiceURL(ctx context.Context, cam models.Camera) (string, error) {
	const op = "onvif.PTZServiceURL"

	body := fmt.Sprintf(`<GetCapabilities xmlns="%s">
        <Category>PTZ</Category>
    </GetCapabilities>`, deviceNS)

	xml, err := c.post(ctx, xaddrOf(cam), deviceNS+"/GetCapabilities", envelopeFor(cam, body))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	addr, ok := parsePTZXAddr(xml)
	if !ok {
		return "", fmt.Errorf("%s: ptz service not advertised: %w", op, errs.ErrNotFound)
	}

	return addr, nil
}

// ContinuousMove starts a PTZ move with velocity components in [-1, 1].
func (c *Client) ContinuousMove(ctx context.Context, cam models.Camera, x, y, zoom float64) error {
	const op = "onvif.ContinuousMove"

	ptzURL, err := c.PTZServiceURL(ctx, cam)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	token, err := c.profileToken(ctx, cam)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	body := fmt.Sprintf(`<ContinuousMove xmlns="%s">
      <ProfileToken>%s</ProfileToken>
      <Velocity>
        <PanTilt x="%g" y="%g" space="http://www.onvif.org/ver10/tptz/PanTiltSpaces/VelocityGenericSpace" xmlns="%s"/>
        <Zoom x="%g" space="http://www.onvif.org/ver10/tptz/ZoomSpaces/VelocityGenericSpace" xmlns="%s"/>
      </Velocity>
    </ContinuousMove>`, ptzNS, token, x, y, schemaNS, zoom, schemaNS)

	if _, err := c.post(ctx, ptzURL, ptzNS+"/ContinuousMove", envelopeFor(cam, body)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// StopMove halts pan/tilt and zoom.
func (c *Client) StopMove(ctx context.Context, cam models.Camera) error {
	const op = "onvif.StopMove"

	ptzURL, err := c.PTZServiceURL(ctx, cam)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	token, err := c.profileToken(ctx, cam)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	body := fmt.Sprintf(`<Stop xmlns="%s">
      <ProfileToken>%s</ProfileToken>
      <PanTilt>true</PanTilt>
      <Zoom>true</Zoom>
    </Stop>`, ptzNS, token)

	if _, err := c.post(ctx, ptzURL, ptzNS+"/Stop", envelopeFor(cam, body)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SystemDateTime reads the camera clock. The operation is public per the
// ONVIF spec, so no security header is sent.
func (c *Client) SystemDateTime(ctx context.Context, cam models.Camera) (DateTime, error) {
	const op = "onvif.SystemDateTime"

	body := fmt.Sprintf(`<GetSystemDateAndTime xmlns="%s"/>`, deviceNS)

	xml, err := c.post(ctx, xaddrOf(cam), deviceNS+"/GetSystemDateAndTime", buildEnvelope("", "", body))
	if err != nil {
		return DateTime{}, fmt.Errorf("%s: %w", op, err)
	}

	var dt DateTime
	for field, dst := range map[string]*int{
		"Year": &dt.Year, "Month": &dt.Month, "Day": &dt.Day,
		"Hour": &dt.Hour, "Minute": &dt.Minute, "Second": &dt.Second,
	} {
		v, ok := parseDateTimeField(xml, field)
		if !ok {
			return DateTime{}, fmt.Errorf("%s: %w", op, protocolError("missing "+field, xml))
		}
		*dst = v
	}

	return dt, nil
}

// SetSystemDateTime sets the camera clock to the given UTC instant.
func (c *Client) SetSystemDateTime(ctx context.Context, cam models.Camera, dt DateTime) error {
	const op = "onvif.SetSystemDateTime"

	body := fmt.Sprintf(`<SetSystemDateAndTime xmlns="%s">
      <DateTimeType>Manual</DateTimeType>
      <DaylightSavings>false</DaylightSavings>
      <TimeZone>
        <TZ xmlns="%s">UTC</TZ>
      </TimeZone>
      <UTCDateTime>
        <Date xmlns="%s">
          <Year>%d</Year>
          <Month>%d</Month>
          <Day>%d</Day>
        </Date>
        <Time xmlns="%s">
          <Hour>%d</Hour>
          <Minute>%d</Minute>
          <Second>%d</Second>
        </Time>
      </UTCDateTime>
    </SetSystemDateAndTime>`, deviceNS, schemaNS, schemaNS,
		dt.Year, dt.Month, dt.Day, schemaNS, dt.Hour, dt.Minute, dt.Second)

	if _, err := c.post(ctx, xaddrOf(cam), deviceNS+"/SetSystemDateAndTime", envelopeFor(cam, body)); err != nil {
		c.log.Error("set system date and time failed", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func xaddrOf(cam models.Camera) string {
	if cam.XAddr != nil && *cam.XAddr != "" {
		return *cam.XAddr
	}

	return fmt.Sprintf("http://%s:%d/onvif/device_service", cam.Host, cam.Port)
}

func envelopeFor(cam models.Camera, body string) string {
	user, pass := credsOf(cam)

	return buildEnvelope(user, pass, body)
}

func credsOf(cam models.Camera) (string, string) {
	var user, pass string
	if cam.User != nil {
		user = *cam.User
	}
	if cam.Pass != nil {
		pass = *cam.Pass
	}

	return user, pass
}

// injectCredentials adds user:pass@ at the authority position unless the
// URI already carries userinfo.
func injectCredentials(uri, user, pass string) string {
	if user == "" {
		return uri
	}

	idx := strings.Index(uri, "://")
	if idx < 0 {
		return uri
	}

	rest := uri[idx+3:]
	if at := strings.Index(rest, "@"); at >= 0 && at < strings.IndexAny(rest+"/", "/") {
		return uri
	}

	return uri[:idx+3] + user + ":" + url.QueryEscape(pass) + "@" + rest
}
