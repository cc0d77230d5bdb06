package errx

import (
	"errors"
	"net/http"

	"go.mongodb.org/mongo-driver/mongo"
)

// MongoErrorMessage describes MongoDB related failures.
const MongoErrorMessage = "mongo operation failed"

// WrapMongo maps MongoDB driver errors to AppError.
func WrapMongo(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return New(err, http.StatusNotFound, NotFoundMessage)
	}
	return New(err, http.StatusBadGateway, MongoErrorMessage)
}
