package skills

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// LoadInstructionSkillsFromS3 discovers SKILL.md manifests under an
// "s3://bucket/prefix" skill_dirs entry, without requiring the objects to be
// mirrored to local disk. Only the manifests are fetched: the bridge skill's
// read_skill_file reads from local disk, so the scripts/ and references/
// files of an S3-hosted skill are not readable through it.
func LoadInstructionSkillsFromS3(ctx context.Context, client *s3.Client, s3URI string) []InstructionSkill {
	bucket, prefix, ok := parseS3URI(s3URI)
	if !ok {
		log.Warn().Str("uri", s3URI).Msg("malformed s3 skill_dirs entry, skipping")
		return nil
	}

	var out []InstructionSkill
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			log.Warn().Err(err).Str("bucket", bucket).Msg("list s3 skill objects failed")
			break
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, "/"+manifestFileName) && key != manifestFileName {
				continue
			}
			sk, err := loadS3Manifest(ctx, client, bucket, key)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("invalid s3 skill package, skipping")
				continue
			}
			out = append(out, sk)
		}
	}
	return out
}

func loadS3Manifest(ctx context.Context, client *s3.Client, bucket, key string) (InstructionSkill, error) {
	obj, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return InstructionSkill{}, err
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return InstructionSkill{}, err
	}

	dir := strings.TrimSuffix(key, "/"+manifestFileName)
	dirName := path.Base(dir)
	sk, err := parseInstructionSkill("s3://"+bucket+"/"+dir, dirName, data)
	if err != nil {
		return InstructionSkill{}, err
	}
	return sk, nil
}

func parseS3URI(uri string) (bucket, prefix string, ok bool) {
	const scheme = "s3://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, scheme)
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix, true
}
