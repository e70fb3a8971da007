package handlers

import (
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
)

func TestGetUserFromUpdate(t *testing.T) {
	assert.Nil(t, getUserFromUpdate(nil))
	assert.Nil(t, getUserFromUpdate(&models.Update{}))

	msgFrom := &models.User{ID: 42, LanguageCode: "ru"}
	got := getUserFromUpdate(&models.Update{Message: &models.Message{From: msgFrom}})
	assert.Equal(t, msgFrom, got)

	checkoutFrom := &models.User{ID: 7, LanguageCode: "en"}
	got = getUserFromUpdate(&models.Update{PreCheckoutQuery: &models.PreCheckoutQuery{From: checkoutFrom}})
	assert.Equal(t, checkoutFrom, got)
}

func TestGetChatIDFromUpdate(t *testing.T) {
	assert.Zero(t, getChatIDFromUpdate(nil))
	assert.Zero(t, getChatIDFromUpdate(&models.Update{}))

	upd := &models.Update{Message: &models.Message{Chat: models.Chat{ID: 99}}}
	assert.Equal(t, int64(99), getChatIDFromUpdate(upd))
}
