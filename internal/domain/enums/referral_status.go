package enums

type ReferralStatus string

const ReferralStatusEarned ReferralStatus = "earned"
