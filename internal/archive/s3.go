// Package archive uploads merged outputs to S3 for retention beyond the
// session lifetime. When the merge carried a password the archived copy is
// encrypted client-side with AES-GCM keyed via PBKDF2 of that password.
package archive

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen    = 16
	pbkdf2Iter = 100_000
)

// Client wraps an S3 uploader bound to one bucket.
type Client struct {
	uploader *manager.Uploader
	s3       *s3.Client
	bucket   string
	prefix   string
}

// New builds an archive client from the default AWS config chain.
func New(ctx context.Context, bucket, prefix string) (*Client, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	return &Client{
		uploader: manager.NewUploader(cli),
		s3:       cli,
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

// StoreMerged uploads the merged PDF at localPath under
// {prefix}/{sessionID}/{jobID}_{filename} and returns the object key.
// A non-empty password triggers client-side encryption.
func (c *Client) StoreMerged(ctx context.Context, localPath, sessionID, jobID, filename, password string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read merged output: %w", err)
	}

	contentType := "application/pdf"
	encrypted := "false"
	if password != "" {
		data, err = encrypt(data, password)
		if err != nil {
			return "", err
		}
		contentType = "application/octet-stream"
		encrypted = "true"
	}

	key := path.Join(c.prefix, sessionID, jobID+"_"+filename)
	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"job-id":    jobID,
			"encrypted": encrypted,
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload: %w", err)
	}
	log.Info().Str("bucket", c.bucket).Str("key", key).Int("size", len(data)).Msg("archived merged output")
	return key, nil
}

// Fetch downloads an archived object and decrypts it when password is set.
func (c *Client) Fetch(ctx context.Context, key, password string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 download: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object: %w", err)
	}
	if password == "" {
		return data, nil
	}
	return decrypt(data, password)
}

// encrypt produces salt || nonce || ciphertext.
func encrypt(plain []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce, plain, nil)
	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

func decrypt(data []byte, password string) ([]byte, error) {
	if len(data) < saltLen {
		return nil, fmt.Errorf("ciphertext too short")
	}
	salt := data[:saltLen]
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	rest := data[saltLen:]
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt archive: %w", err)
	}
	return plain, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iter, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
