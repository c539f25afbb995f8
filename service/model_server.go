package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/mailersend/mailersend-go"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/satyajitghana/sd3-ui/config"
	"github.com/satyajitghana/sd3-ui/handler"
	"github.com/satyajitghana/sd3-ui/pkg/db"
)

// Service hosts the SD3 handler behind an HTTP API. The postgres, minio,
// rabbitmq and email integrations are optional; each is enabled by its
// config section being filled in.
type Service struct {
	cfg            *config.Config
	e              *echo.Echo
	Handler        *handler.SD3Handler
	GenerationDB   db.GenerationDatabase
	minioClient    *minio.Client
	rabbitMQClient *amqp.Channel
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		e:       echo.New(),
		cfg:     cfg,
		Handler: handler.NewSD3Handler(),
	}
}

func (s *Service) StartService() error {
	//db init (optional)
	if s.cfg.Postgres.Host != "" {
		dB, err := sqlx.Open("postgres", fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			s.cfg.Postgres.Host, s.cfg.Postgres.Port, s.cfg.Postgres.Username, s.cfg.Postgres.Password, s.cfg.Postgres.Database))
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %v", err)
		}
		log.Info().Msg("connected to Postgres")
		s.GenerationDB, err = db.NewGenerationDatabase(s.cfg.Postgres.AutoCreate, dB)
		if err != nil {
			return fmt.Errorf("failed to initialize generation database: %v", err)
		}
	}

	//minio init (optional)
	if s.cfg.Minio.Endpoint != "" {
		minioClient, err := minio.New(s.cfg.Minio.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(s.cfg.Minio.AccessKey, s.cfg.Minio.SecretKey, ""),
			Secure: true,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Minio client: %v", err)
		}
		s.minioClient = minioClient
		log.Info().Msg("connected to Minio")
	}

	//rabbitMQ init (optional)
	if s.cfg.RabbitMQ.Host != "" {
		conn, err := amqp.Dial(fmt.Sprintf("amqp://%s:%s@%s:%d/",
			s.cfg.RabbitMQ.Username, s.cfg.RabbitMQ.Password, s.cfg.RabbitMQ.Host, s.cfg.RabbitMQ.Port))
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %v", err)
		}
		log.Info().Msg("connected to RabbitMQ")
		s.rabbitMQClient, err = conn.Channel()
		if err != nil {
			return fmt.Errorf("failed to open a channel: %v", err)
		}
	}

	//model init: extraction, pretrained load, device placement
	if err := s.Handler.Initialize(&handler.Context{
		ModelDir: s.cfg.Model.Dir,
		GPUID:    s.cfg.Model.GPUID,
	}); err != nil {
		return fmt.Errorf("failed to initialize handler: %w", err)
	}

	//setting up echo server with middleware
	s.e.Use(middleware.Logger())
	s.e.Use(middleware.Recover())

	v1 := s.e.Group("/api/v1")
	v1.POST("/predictions", s.HandlePredictions)
	v1.GET("/request/:id", s.GetRequestStatus)

	if err := s.e.Start(":" + s.cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %v", err)
	}

	return nil
}

type predictionPayload struct {
	Data  *string `json:"data"`
	Body  *string `json:"body"`
	Email string  `json:"email"`
}

// HandlePredictions drives one request batch through
// preprocess -> inference -> postprocess and returns the nested pixel
// arrays, one per request. Inference or postprocess failure fails the
// whole batch.
func (s *Service) HandlePredictions(c echo.Context) error {
	var payloads []predictionPayload
	if err := c.Bind(&payloads); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if len(payloads) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "empty request batch"})
	}

	requests := make([]handler.Request, len(payloads))
	for i, p := range payloads {
		if p.Data != nil {
			requests[i].Data = *p.Data
		}
		if p.Body != nil {
			requests[i].Body = []byte(*p.Body)
		}
	}

	inputs, err := s.Handler.Preprocess(requests)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	ctx := c.Request().Context()
	ids := s.recordPending(ctx, inputs, payloads)

	images, err := s.Handler.Inference(ctx, inputs)
	if err != nil {
		s.recordFailed(ctx, ids)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	arrays, err := s.Handler.Postprocess(images)
	if err != nil {
		s.recordFailed(ctx, ids)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	for i := range images {
		s.archiveResult(ctx, ids[i], inputs[i], payloads[i].Email, images[i])
	}

	return c.JSON(http.StatusOK, arrays)
}

func (s *Service) GetRequestStatus(c echo.Context) error {
	if s.GenerationDB == nil {
		return c.JSON(http.StatusServiceUnavailable, "generation history is not configured")
	}
	intID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, err)
	}
	record, err := s.GenerationDB.GetGenerationByID(c.Request().Context(), intID)
	if err != nil {
		log.Error().Err(err).Msgf("failed to get generation %d", intID)
		return c.JSON(http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Service) recordPending(ctx context.Context, inputs []string, payloads []predictionPayload) []int {
	ids := make([]int, len(inputs))
	for i := range ids {
		ids[i] = -1
	}
	if s.GenerationDB == nil {
		return ids
	}
	for i, input := range inputs {
		id, err := s.GenerationDB.CreateGeneration(ctx, input, payloads[i].Email)
		if err != nil {
			log.Error().Err(err).Msgf("failed to record generation for request %d", i)
			continue
		}
		ids[i] = id
	}
	return ids
}

func (s *Service) recordFailed(ctx context.Context, ids []int) {
	if s.GenerationDB == nil {
		return
	}
	for _, id := range ids {
		if id < 0 {
			continue
		}
		if err := s.GenerationDB.FailGeneration(ctx, id); err != nil {
			log.Error().Err(err).Msgf("failed to mark generation %d failed", id)
		}
	}
}

// archiveResult uploads one served image to object storage, records its
// URL and notifies the requester. Every step logs and continues; archival
// never fails a served batch.
func (s *Service) archiveResult(ctx context.Context, id int, prompt, email string, img image.Image) {
	if s.minioClient == nil {
		return
	}

	imageURL, err := s.uploadImageToMinIO(ctx, id, img)
	if err != nil {
		log.Error().Err(err).Msgf("failed to upload image for generation %d", id)
		return
	}

	if s.GenerationDB != nil && id >= 0 {
		if err := s.GenerationDB.CompleteGeneration(ctx, id, imageURL); err != nil {
			log.Error().Err(err).Msgf("failed to update image URL for generation %d", id)
		}
	}

	if s.rabbitMQClient != nil {
		if err := s.publishCompletion(ctx, id, prompt, imageURL); err != nil {
			log.Error().Err(err).Msgf("failed to publish completion for generation %d", id)
		}
	}

	if email != "" && s.cfg.Email.APIKey != "" {
		if err := s.sendEmail("image generated", "your image has been generated --> "+imageURL,
			"<h1>your image has been generated --> "+imageURL+"</h1>", "SD3ImageService", s.cfg.Email.From, email); err != nil {
			log.Error().Err(err).Msgf("failed to send email for generation %d", id)
		}
	}

	log.Info().Msgf("successfully archived generation %d, image URL: %s", id, imageURL)
}

// generationObjectName builds a unique object key per upload; the uuid
// keeps uploads from colliding when no history id was recorded.
func generationObjectName(id int) string {
	return fmt.Sprintf("generation_%d_%s_%s.png", id, time.Now().Format("2006-01-02"), uuid.NewString())
}

func (s *Service) uploadImageToMinIO(ctx context.Context, id int, img image.Image) (string, error) {
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	objectName := generationObjectName(id)
	_, err := s.minioClient.PutObject(ctx, s.cfg.Minio.Bucket, objectName,
		bytes.NewReader(buf.Bytes()), int64(buf.Len()), minio.PutObjectOptions{ContentType: "image/png"})
	if err != nil {
		return "", fmt.Errorf("failed to upload image to Minio: %w", err)
	}
	imageURL := fmt.Sprintf("https://%s/%s/%s", s.cfg.Minio.Endpoint, s.cfg.Minio.Bucket, objectName)
	return imageURL, nil
}

type completionEvent struct {
	ID       int    `json:"id"`
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url"`
}

func (s *Service) publishCompletion(ctx context.Context, id int, prompt, imageURL string) error {
	body, err := json.Marshal(completionEvent{ID: id, Prompt: prompt, ImageURL: imageURL})
	if err != nil {
		return fmt.Errorf("failed to marshal completion event: %w", err)
	}
	return s.rabbitMQClient.PublishWithContext(ctx, "", s.cfg.RabbitMQ.Queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   strconv.Itoa(id),
		Body:        body,
	})
}

func (s *Service) sendEmail(subject, text, html, fromName, fromEmail, toEmail string) error {
	ms := mailersend.NewMailersend(s.cfg.Email.APIKey)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	from := mailersend.From{
		Name:  fromName,
		Email: fromEmail,
	}
	recipients := []mailersend.Recipient{
		{
			Email: toEmail,
		},
	}

	message := ms.Email.NewMessage()
	message.SetFrom(from)
	message.SetRecipients(recipients)
	message.SetSubject(subject)
	message.SetHTML(html)
	message.SetText(text)

	_, err := ms.Email.Send(ctx, message)
	if err != nil {
		return err
	}
	return nil
}
