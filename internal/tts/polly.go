package tts

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/polly"
)

type pollyAPI interface {
	DescribeVoicesWithContext(aws.Context, *polly.DescribeVoicesInput, ...request.Option) (*polly.DescribeVoicesOutput, error)
	SynthesizeSpeechWithContext(aws.Context, *polly.SynthesizeSpeechInput, ...request.Option) (*polly.SynthesizeSpeechOutput, error)
}

// Polly synthesizes with Amazon Polly. Credentials come from the default AWS chain.
type Polly struct {
	api pollyAPI
}

func NewPolly(region string) (*Polly, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("tts: aws session: %w", err)
	}
	return &Polly{api: polly.New(sess)}, nil
}

func (p *Polly) Extension() string { return "mp3" }

func (p *Polly) Voices(ctx context.Context) ([]Voice, error) {
	var voices []Voice
	in := &polly.DescribeVoicesInput{}
	for {
		out, err := p.api.DescribeVoicesWithContext(ctx, in)
		if err != nil {
			return nil, err
		}
		for _, v := range out.Voices {
			voices = append(voices, Voice{
				ID:   aws.StringValue(v.Id),
				Name: aws.StringValue(v.LanguageName) + " " + aws.StringValue(v.Name),
			})
		}
		if aws.StringValue(out.NextToken) == "" {
			return voices, nil
		}
		in.NextToken = out.NextToken
	}
}

func (p *Polly) Render(ctx context.Context, text string, voice Voice, path string) error {
	out, err := p.api.SynthesizeSpeechWithContext(ctx, &polly.SynthesizeSpeechInput{
		OutputFormat: aws.String(polly.OutputFormatMp3),
		Text:         aws.String(text),
		VoiceId:      aws.String(voice.ID),
	})
	if err != nil {
		return err
	}
	defer out.AudioStream.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, out.AudioStream)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("polly returned an empty audio stream")
	}
	return nil
}
